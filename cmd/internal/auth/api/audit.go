package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Auditor writes security-relevant auth events to perch.audit_log.
// Writes are best-effort; an audit failure is logged but never fails the
// request that produced it.
type Auditor struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	enabled bool
}

// NewAuditor constructs an Auditor. With a nil pool or enabled=false every
// write is a no-op.
func NewAuditor(log *slog.Logger, pool *pgxpool.Pool, enabled bool) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{log: log, pool: pool, enabled: enabled && pool != nil}
}

func (a *Auditor) record(ctx context.Context, action string, principalID, sessionID, ip string, meta map[string]any) {
	if a == nil || !a.enabled {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO perch.audit_log (
			principal_id, session_id, action, created_at, ip, meta
		) VALUES ($1, $2, $3, now(), $4, $5::jsonb)
	`, nullIfEmpty(principalID), nullIfEmpty(sessionID), action, nullIfEmpty(ip), metaVal)
	if err != nil {
		a.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", action)
	}
}

func (a *Auditor) loginSuccess(ctx context.Context, role, principalID, sessionID, ip string) {
	a.record(ctx, "auth.login.success", principalID, sessionID, ip, map[string]any{"role": role})
}

func (a *Auditor) loginFailed(ctx context.Context, role, identifier, ip, reason string) {
	a.record(ctx, "auth.login.failed", "", "", ip, map[string]any{
		"role":       role,
		"identifier": identifier,
		"reason":     reason,
	})
}

func (a *Auditor) loginLockedOut(ctx context.Context, role, identifier, ip string, retryAfter time.Duration) {
	a.record(ctx, "auth.login.locked_out", "", "", ip, map[string]any{
		"role":          role,
		"identifier":    identifier,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (a *Auditor) refreshSuccess(ctx context.Context, principalID, sessionID, ip string) {
	a.record(ctx, "auth.refresh.success", principalID, sessionID, ip, nil)
}

func (a *Auditor) refreshRejected(ctx context.Context, ip, reason string) {
	a.record(ctx, "auth.refresh.rejected", "", "", ip, map[string]any{"reason": reason})
}

func (a *Auditor) logout(ctx context.Context, principalID, sessionID, ip string) {
	a.record(ctx, "auth.logout", principalID, sessionID, ip, nil)
}

func (a *Auditor) terminated(ctx context.Context, byPrincipalID, sessionID, ip string) {
	a.record(ctx, "auth.session.terminated", byPrincipalID, sessionID, ip, nil)
}

// SessionExpired records a session expired by timeout, whether observed at
// point of use or by the background sweep. It satisfies
// session.ExpiryAuditor.
func (a *Auditor) SessionExpired(ctx context.Context, sessionID, principalID, reason string) {
	a.record(ctx, "auth.session.expired", principalID, sessionID, "", map[string]any{"reason": reason})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
