package session

import (
	"context"
	"time"
)

// Session end reasons, recorded on the durable row when a session leaves the
// active state.
const (
	EndReasonExpiredIdle     = "expired_idle"
	EndReasonExpiredAbsolute = "expired_absolute"
	EndReasonRevokedLogout   = "revoked_logout"
	EndReasonRevokedAdmin    = "revoked_admin"
)

// RefreshTokenRow is the durable record of one refresh token in a rotation
// chain. Revoked rows are kept until expiry so reuse of a redeemed token is
// distinguishable from a token that never existed.
type RefreshTokenRow struct {
	TokenHash   string
	SessionID   string
	PrincipalID string
	Role        string
	GuardianID  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
}

// SessionRow is the durable record of a login session. The ID is stable for
// the session's whole lifetime, across any number of refresh rotations.
type SessionRow struct {
	ID             string
	PrincipalID    string
	Role           string
	GuardianID     string
	DeviceInfo     string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Active         bool
	EndReason      string
	EndedAt        time.Time
}

// TimedOut reports whether a dependent session has breached either timeout,
// and which one. Absolute wins when both are breached at once.
func (s SessionRow) TimedOut(cfg Config, now time.Time) (bool, string) {
	if s.Role != "dependent" {
		return false, ""
	}
	if now.Sub(s.CreatedAt) >= cfg.DependentAbsoluteTimeout {
		return true, EndReasonExpiredAbsolute
	}
	if now.Sub(s.LastActivityAt) >= cfg.DependentIdleTimeout {
		return true, EndReasonExpiredIdle
	}
	return false, ""
}

// RefreshStore persists refresh-token rows.
type RefreshStore interface {
	// Insert stores a freshly issued refresh token.
	Insert(ctx context.Context, row RefreshTokenRow) error

	// GetByHash loads a token row by its storage hash. Returns
	// ErrInvalidToken when no row exists.
	GetByHash(ctx context.Context, tokenHash string) (RefreshTokenRow, error)

	// Redeem atomically revokes the token identified by tokenHash and
	// inserts its replacement. Exactly one of N concurrent calls with the
	// same hash succeeds; the rest get ErrInvalidToken. An expired token
	// is deleted and reported as ErrTokenExpired. A missing or already
	// revoked token is ErrInvalidToken.
	Redeem(ctx context.Context, now time.Time, tokenHash string, replacement RefreshTokenRow) error

	// RevokeBySession revokes every live token belonging to a session.
	RevokeBySession(ctx context.Context, sessionID string) error

	// RevokeByPrincipal revokes every live token belonging to a principal.
	RevokeByPrincipal(ctx context.Context, principalID string) error

	// DeleteExpired removes rows past their expiry and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore persists login-session rows.
type SessionStore interface {
	Create(ctx context.Context, row SessionRow) error

	// GetByID loads a session row. Returns ErrSessionNotFound when absent.
	GetByID(ctx context.Context, id string) (SessionRow, error)

	// Touch advances last_activity_at on an active session.
	Touch(ctx context.Context, id string, now time.Time) error

	// Close marks an active session ended with the given reason. Returns
	// false when the session was already closed (idempotent) and
	// ErrSessionNotFound when no such session exists.
	Close(ctx context.Context, id string, reason string, now time.Time) (bool, error)

	// CloseAllForPrincipal closes every active session of a principal and
	// returns the closed session ids.
	CloseAllForPrincipal(ctx context.Context, principalID string, reason string, now time.Time) ([]string, error)

	// CloseTimedOut closes dependent sessions that breached either timeout
	// and describes what it closed.
	CloseTimedOut(ctx context.Context, cfg Config, now time.Time) ([]ClosedSession, error)
}

// ClosedSession describes one session closed by CloseTimedOut.
type ClosedSession struct {
	ID          string
	PrincipalID string
	Reason      string
}
