package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perch/cmd/internal/metrics"
)

// Monitor is the read side of the session subsystem: it validates bearer
// tokens on every authenticated request and enforces dependent timeouts.
//
// Validation is cache-first for dependents. A cache hit answers from Redis;
// a miss or a Redis error falls through to the durable store, which remains
// authoritative. The cache can therefore be flushed at any time without
// logging anyone out.
type Monitor struct {
	cfg      Config
	tokens   *TokenIssuer
	refresh  RefreshStore
	sessions SessionStore
	cache    Cache
	denylist Denylist
	liveness DependentLiveness
	audit    ExpiryAuditor
	log      *slog.Logger
}

// ExpiryAuditor receives an event for every session the Monitor expires,
// whether at point of use or by sweep.
type ExpiryAuditor interface {
	SessionExpired(ctx context.Context, sessionID, principalID, reason string)
}

// NoopExpiryAuditor discards expiry events.
type NoopExpiryAuditor struct{}

func (NoopExpiryAuditor) SessionExpired(ctx context.Context, sessionID, principalID, reason string) {
}

// NewMonitor constructs a Monitor sharing the Service's stores. audit may be
// nil when no audit sink is configured.
func NewMonitor(cfg Config, tokens *TokenIssuer, refresh RefreshStore, sessions SessionStore, cache Cache, denylist Denylist, liveness DependentLiveness, audit ExpiryAuditor, log *slog.Logger) *Monitor {
	if audit == nil {
		audit = NoopExpiryAuditor{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		tokens:   tokens,
		refresh:  refresh,
		sessions: sessions,
		cache:    cache,
		denylist: denylist,
		liveness: liveness,
		audit:    audit,
		log:      log,
	}
}

// Validate authenticates a bearer access token.
//
// Order of checks: signature and expiry, denylist, then session liveness.
// Guardian tokens are self-contained once past the denylist. Dependent
// tokens additionally require a live session within both timeout windows
// and an active account.
func (m *Monitor) Validate(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := m.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	denied, err := m.denylist.Contains(ctx, token)
	if err != nil {
		// Denylist unavailable: fail closed only for sessions the durable
		// store cannot vouch for. Here the durable check below still runs
		// for dependents; guardians keep working on the signed token.
		m.log.WarnContext(ctx, "auth.validate.denylist_error", "err", err)
	} else if denied {
		return AccessClaims{}, ErrInvalidToken
	}

	if claims.Role != "dependent" {
		return claims, nil
	}

	if claims2, ok := m.validateFromCache(ctx, claims, now); ok {
		return claims2, nil
	}
	return m.validateFromStore(ctx, claims, now)
}

// validateFromCache answers a dependent validation from the cache when
// possible. ok is false on miss or error; it never rejects on its own, the
// durable path makes negative decisions.
func (m *Monitor) validateFromCache(ctx context.Context, claims AccessClaims, now time.Time) (AccessClaims, bool) {
	entry, err := m.cache.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			m.log.WarnContext(ctx, "auth.validate.cache_error", "err", err)
		}
		return AccessClaims{}, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	if entry.PrincipalID != claims.PrincipalID {
		return AccessClaims{}, false
	}
	if now.Sub(entry.CreatedAt) >= m.cfg.DependentAbsoluteTimeout {
		return AccessClaims{}, false
	}
	if now.Sub(entry.LastActivityAt) >= m.cfg.DependentIdleTimeout {
		return AccessClaims{}, false
	}
	return claims, true
}

// validateFromStore is the durable path: session row, timeout windows,
// account liveness. On success it repopulates the cache.
func (m *Monitor) validateFromStore(ctx context.Context, claims AccessClaims, now time.Time) (AccessClaims, error) {
	sess, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}
	if sess.PrincipalID != claims.PrincipalID {
		return AccessClaims{}, ErrInvalidToken
	}
	if !sess.Active {
		return AccessClaims{}, ErrSessionInvalid
	}
	if timedOut, reason := sess.TimedOut(m.cfg, now); timedOut {
		if _, err := m.sessions.Close(ctx, sess.ID, reason, now); err != nil {
			return AccessClaims{}, err
		}
		if err := m.refresh.RevokeBySession(ctx, sess.ID); err != nil {
			return AccessClaims{}, err
		}
		m.deleteCache(ctx, sess.ID)
		m.audit.SessionExpired(ctx, sess.ID, sess.PrincipalID, reason)
		return AccessClaims{}, ErrSessionExpired
	}

	active, err := m.liveness.DependentActive(ctx, claims.PrincipalID)
	if err != nil {
		return AccessClaims{}, err
	}
	if !active {
		return AccessClaims{}, ErrSessionInvalid
	}

	if err := m.cache.PutLogin(ctx, CacheEntry{
		SessionID:      sess.ID,
		PrincipalID:    sess.PrincipalID,
		Role:           sess.Role,
		GuardianID:     sess.GuardianID,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
	}, m.cfg.CacheTTL()); err != nil {
		m.log.WarnContext(ctx, "auth.validate.cache_put.fail", "sid", sess.ID, "err", err)
	}

	return claims, nil
}

// Touch records activity on a dependent session, resetting its idle window in
// both stores. Guardians have no idle window, so their touch is a no-op.
func (m *Monitor) Touch(ctx context.Context, claims AccessClaims, now time.Time) error {
	if claims.Role != "dependent" {
		return nil
	}
	if err := m.sessions.Touch(ctx, claims.SessionID, now); err != nil {
		return err
	}
	if err := m.cache.Touch(ctx, claims.SessionID, now, m.cfg.CacheTTL()); err != nil {
		m.log.WarnContext(ctx, "auth.touch.cache_fail", "sid", claims.SessionID, "err", err)
	}
	return nil
}

// EnforceTimeouts closes every dependent session past either window, revokes
// their refresh tokens and evicts their cache entries. It returns the closed
// session ids.
func (m *Monitor) EnforceTimeouts(ctx context.Context, now time.Time) ([]string, error) {
	closed, err := m.sessions.CloseTimedOut(ctx, m.cfg, now)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(closed))
	for _, c := range closed {
		if err := m.refresh.RevokeBySession(ctx, c.ID); err != nil {
			return ids, err
		}
		m.deleteCache(ctx, c.ID)
		m.audit.SessionExpired(ctx, c.ID, c.PrincipalID, c.Reason)
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *Monitor) deleteCache(ctx context.Context, sessionID string) {
	if err := m.cache.Delete(ctx, sessionID); err != nil {
		m.log.WarnContext(ctx, "auth.validate.cache_delete.fail", "sid", sessionID, "err", err)
	}
}
