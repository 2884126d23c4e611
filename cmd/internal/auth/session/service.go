package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"perch/cmd/identity"
	"perch/cmd/identity/ids"
)

// DependentLiveness answers whether a dependent account is still active.
// Refresh and validation consult it so a deactivated dependent loses access
// at the next touch point, not at token expiry.
type DependentLiveness interface {
	DependentActive(ctx context.Context, dependentID string) (bool, error)
}

// StoreLiveness adapts an identity.Store into a DependentLiveness.
type StoreLiveness struct {
	Store identity.Store
}

func (l StoreLiveness) DependentActive(ctx context.Context, dependentID string) (bool, error) {
	dep, err := l.Store.GetDependentByID(ctx, dependentID)
	if err != nil {
		if identity.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return dep.Active, nil
}

// Service implements the high-level session operations for Perch.
//
// It opens sessions (access + refresh), rotates refresh tokens with
// exactly-once redemption, and revokes sessions on logout. The session id is
// stable for the session's lifetime; rotation replaces tokens, not sessions.
type Service struct {
	cfg      Config
	tokens   *TokenIssuer
	refresh  RefreshStore
	sessions SessionStore
	cache    Cache
	denylist Denylist
	liveness DependentLiveness
	log      *slog.Logger
}

// Issued is the result of opening a session or redeeming a refresh token.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service. Cache and denylist may be NoopCache and
// NoopDenylist when Redis is not configured.
func NewService(cfg Config, tokens *TokenIssuer, refresh RefreshStore, sessions SessionStore, cache Cache, denylist Denylist, liveness DependentLiveness, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		tokens:   tokens,
		refresh:  refresh,
		sessions: sessions,
		cache:    cache,
		denylist: denylist,
		liveness: liveness,
		log:      log,
	}
}

// Open creates a new login session for an already verified principal and
// returns its first token pair. deviceInfo is a free-form client description
// (typically the User-Agent) kept on the session row for audit. The cache
// write is best-effort.
func (s *Service) Open(ctx context.Context, now time.Time, p identity.Principal, deviceInfo string) (Issued, error) {
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	row := SessionRow{
		ID:             sessionID,
		PrincipalID:    p.ID(),
		Role:           string(p.Role),
		GuardianID:     p.OwnerGuardianID(),
		DeviceInfo:     deviceInfo,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
	if err := s.sessions.Create(ctx, row); err != nil {
		return Issued{}, err
	}

	issued, err := s.issuePair(ctx, now, row)
	if err != nil {
		return Issued{}, err
	}

	if err := s.cache.PutLogin(ctx, CacheEntry{
		SessionID:      sessionID,
		PrincipalID:    row.PrincipalID,
		Role:           row.Role,
		GuardianID:     row.GuardianID,
		CreatedAt:      now,
		LastActivityAt: now,
	}, s.cfg.CacheTTL()); err != nil {
		s.log.WarnContext(ctx, "auth.session.cache_put.fail", "sid", sessionID, "err", err)
	}

	return issued, nil
}

// Refresh redeems a refresh token for a new token pair on the same session.
//
// Exactly one of N concurrent presentations of the same token succeeds; the
// rest observe ErrInvalidToken. An expired token is ErrTokenExpired on first
// presentation and ErrInvalidToken afterwards, since expired rows are
// deleted on redemption.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshTokenPlain string) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrInvalidToken
	}
	refreshHash := HashRefreshToken(refreshTokenPlain)

	row, err := s.refresh.GetByHash(ctx, refreshHash)
	if err != nil {
		return Issued{}, err
	}
	// A revoked token is indistinguishable from an absent one, whatever
	// state its session is in.
	if row.Revoked {
		return Issued{}, ErrInvalidToken
	}

	// A deactivated dependent must not rotate its way past deactivation.
	if row.Role == "dependent" {
		active, err := s.liveness.DependentActive(ctx, row.PrincipalID)
		if err != nil {
			return Issued{}, err
		}
		if !active {
			return Issued{}, identity.ErrAccountInactive
		}
	}

	sess, err := s.sessions.GetByID(ctx, row.SessionID)
	if err != nil {
		return Issued{}, err
	}
	if !sess.Active {
		return Issued{}, ErrSessionInvalid
	}
	if timedOut, reason := sess.TimedOut(s.cfg, now); timedOut {
		if _, err := s.sessions.Close(ctx, sess.ID, reason, now); err != nil {
			return Issued{}, err
		}
		if err := s.refresh.RevokeBySession(ctx, sess.ID); err != nil {
			return Issued{}, err
		}
		s.deleteCache(ctx, sess.ID)
		return Issued{}, ErrSessionExpired
	}

	newRefreshPlain, newRefreshHash, err := NewRefreshToken(s.cfg)
	if err != nil {
		return Issued{}, err
	}
	replacement := RefreshTokenRow{
		TokenHash:   newRefreshHash,
		SessionID:   row.SessionID,
		PrincipalID: row.PrincipalID,
		Role:        row.Role,
		GuardianID:  row.GuardianID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
	}

	if err := s.refresh.Redeem(ctx, now, refreshHash, replacement); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(AccessClaims{
		PrincipalID: row.PrincipalID,
		Role:        row.Role,
		SessionID:   row.SessionID,
		GuardianID:  row.GuardianID,
	}, now)
	if err != nil {
		return Issued{}, err
	}

	if err := s.sessions.Touch(ctx, row.SessionID, now); err != nil {
		return Issued{}, err
	}
	if err := s.cache.Touch(ctx, row.SessionID, now, s.cfg.CacheTTL()); err != nil {
		s.log.WarnContext(ctx, "auth.session.cache_touch.fail", "sid", row.SessionID, "err", err)
	}

	return Issued{
		SessionID:    row.SessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefreshPlain,
		RefreshExp:   replacement.ExpiresAt,
	}, nil
}

// Logout ends a session. It is idempotent: logging out an already closed
// session succeeds. The presented access token, when given, is denylisted
// for its remaining lifetime so it cannot be replayed until natural expiry.
func (s *Service) Logout(ctx context.Context, now time.Time, sessionID string, accessToken string, accessExp time.Time) error {
	if accessToken != "" {
		if err := s.denylist.Add(ctx, accessToken, accessExp, now); err != nil {
			s.log.WarnContext(ctx, "auth.session.denylist_add.fail", "sid", sessionID, "err", err)
		}
	}
	s.deleteCache(ctx, sessionID)

	if err := s.refresh.RevokeBySession(ctx, sessionID); err != nil {
		return err
	}

	_, err := s.sessions.Close(ctx, sessionID, EndReasonRevokedLogout, now)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// Terminate force-ends a session on behalf of a guardian or administrator.
// Unlike Logout it reports ErrSessionNotFound for an unknown session.
func (s *Service) Terminate(ctx context.Context, now time.Time, sessionID string) error {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return err
	}

	s.deleteCache(ctx, sessionID)
	if err := s.refresh.RevokeBySession(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.sessions.Close(ctx, sessionID, EndReasonRevokedAdmin, now)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// TerminateOwned is Terminate restricted to sessions owned by the given
// guardian. A session belonging to someone else is reported as
// ErrSessionNotFound so the endpoint leaks nothing about foreign sessions.
func (s *Service) TerminateOwned(ctx context.Context, now time.Time, sessionID, guardianID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.GuardianID != guardianID {
		return ErrSessionNotFound
	}
	return s.Terminate(ctx, now, sessionID)
}

// TerminateAll ends every active session of a principal and returns the
// closed session ids.
func (s *Service) TerminateAll(ctx context.Context, now time.Time, principalID string) ([]string, error) {
	if err := s.refresh.RevokeByPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	ids, err := s.sessions.CloseAllForPrincipal(ctx, principalID, EndReasonRevokedAdmin, now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.deleteCache(ctx, id)
	}
	return ids, nil
}

// deleteCache evicts a session's cache entry. Cache failures are logged and
// absorbed; the durable store already holds the authoritative state.
func (s *Service) deleteCache(ctx context.Context, sessionID string) {
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.log.WarnContext(ctx, "auth.session.cache_delete.fail", "sid", sessionID, "err", err)
	}
}

func (s *Service) issuePair(ctx context.Context, now time.Time, sess SessionRow) (Issued, error) {
	refreshPlain, refreshHash, err := NewRefreshToken(s.cfg)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	if err := s.refresh.Insert(ctx, RefreshTokenRow{
		TokenHash:   refreshHash,
		SessionID:   sess.ID,
		PrincipalID: sess.PrincipalID,
		Role:        sess.Role,
		GuardianID:  sess.GuardianID,
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(AccessClaims{
		PrincipalID: sess.PrincipalID,
		Role:        sess.Role,
		SessionID:   sess.ID,
		GuardianID:  sess.GuardianID,
	}, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sess.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}
