package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRefreshStore implements RefreshStore using PostgreSQL
// (perch.refresh_tokens).
type PostgresRefreshStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshStore creates a Postgres-backed refresh-token store.
func NewPostgresRefreshStore(pool *pgxpool.Pool) *PostgresRefreshStore {
	return &PostgresRefreshStore{pool: pool}
}

// Insert stores a freshly issued refresh token.
func (s *PostgresRefreshStore) Insert(ctx context.Context, row RefreshTokenRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO perch.refresh_tokens (
			token_hash, session_id, principal_id, role, guardian_id,
			issued_at, expires_at, revoked
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, FALSE
		)
	`, row.TokenHash, row.SessionID, row.PrincipalID, row.Role, row.GuardianID,
		row.IssuedAt, row.ExpiresAt)
	return err
}

// GetByHash loads a token row by its storage hash.
func (s *PostgresRefreshStore) GetByHash(ctx context.Context, tokenHash string) (RefreshTokenRow, error) {
	var row RefreshTokenRow

	err := s.pool.QueryRow(ctx, `
		SELECT
			token_hash, session_id, principal_id, role, guardian_id,
			issued_at, expires_at, revoked
		FROM perch.refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&row.TokenHash,
		&row.SessionID,
		&row.PrincipalID,
		&row.Role,
		&row.GuardianID,
		&row.IssuedAt,
		&row.ExpiresAt,
		&row.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshTokenRow{}, ErrInvalidToken
	}
	if err != nil {
		return RefreshTokenRow{}, err
	}

	return row, nil
}

// Redeem atomically revokes tokenHash and inserts its replacement. The
// conditional UPDATE is the single serialization point: exactly one of N
// concurrent redemptions flips revoked and commits the replacement row.
func (s *PostgresRefreshStore) Redeem(ctx context.Context, now time.Time, tokenHash string, replacement RefreshTokenRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row, err := getRefreshByHashTx(ctx, tx, tokenHash)
	if err != nil {
		return err
	}

	// A revoked token reads the same as an absent one, even when it has
	// also expired in the meantime.
	if row.Revoked {
		return ErrInvalidToken
	}

	if !now.Before(row.ExpiresAt) {
		_, _ = tx.Exec(ctx, `
			DELETE FROM perch.refresh_tokens WHERE token_hash = $1
		`, tokenHash)
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		return ErrTokenExpired
	}

	tag, err := tx.Exec(ctx, `
		UPDATE perch.refresh_tokens
		SET revoked = TRUE
		WHERE token_hash = $1 AND revoked = FALSE
	`, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrInvalidToken
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO perch.refresh_tokens (
			token_hash, session_id, principal_id, role, guardian_id,
			issued_at, expires_at, revoked
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, FALSE
		)
	`, replacement.TokenHash, replacement.SessionID, replacement.PrincipalID,
		replacement.Role, replacement.GuardianID,
		replacement.IssuedAt, replacement.ExpiresAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RevokeBySession revokes every live token belonging to a session.
func (s *PostgresRefreshStore) RevokeBySession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE perch.refresh_tokens
		SET revoked = TRUE
		WHERE session_id = $1 AND revoked = FALSE
	`, sessionID)
	return err
}

// RevokeByPrincipal revokes every live token belonging to a principal.
func (s *PostgresRefreshStore) RevokeByPrincipal(ctx context.Context, principalID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE perch.refresh_tokens
		SET revoked = TRUE
		WHERE principal_id = $1 AND revoked = FALSE
	`, principalID)
	return err
}

// DeleteExpired removes token rows past their expiry.
func (s *PostgresRefreshStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM perch.refresh_tokens
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PostgresSessionStore implements SessionStore using PostgreSQL
// (perch.login_sessions).
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a Postgres-backed login-session store.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Create inserts a new login-session row.
func (s *PostgresSessionStore) Create(ctx context.Context, row SessionRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO perch.login_sessions (
			id, principal_id, role, guardian_id, device_info,
			created_at, last_activity_at, active, end_reason, ended_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $6, TRUE, NULL, NULL
		)
	`, row.ID, row.PrincipalID, row.Role, row.GuardianID, row.DeviceInfo, row.CreatedAt)
	return err
}

// GetByID loads a login-session row.
func (s *PostgresSessionStore) GetByID(ctx context.Context, id string) (SessionRow, error) {
	var (
		row       SessionRow
		endReason *string
		endedAt   *time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, principal_id, role, guardian_id, device_info,
			created_at, last_activity_at, active, end_reason, ended_at
		FROM perch.login_sessions
		WHERE id = $1
	`, id).Scan(
		&row.ID,
		&row.PrincipalID,
		&row.Role,
		&row.GuardianID,
		&row.DeviceInfo,
		&row.CreatedAt,
		&row.LastActivityAt,
		&row.Active,
		&endReason,
		&endedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}

	if endReason != nil {
		row.EndReason = *endReason
	}
	if endedAt != nil {
		row.EndedAt = *endedAt
	}
	return row, nil
}

// Touch advances last_activity_at on an active session.
func (s *PostgresSessionStore) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE perch.login_sessions
		SET last_activity_at = $2
		WHERE id = $1 AND active = TRUE
	`, id, now)
	return err
}

// Close marks an active session ended. Idempotent: a second close of the same
// session reports false with no error.
func (s *PostgresSessionStore) Close(ctx context.Context, id string, reason string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE perch.login_sessions
		SET active = FALSE, end_reason = $2, ended_at = $3
		WHERE id = $1 AND active = TRUE
	`, id, reason, now)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM perch.login_sessions WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrSessionNotFound
	}
	return false, nil
}

// CloseAllForPrincipal closes every active session of a principal.
func (s *PostgresSessionStore) CloseAllForPrincipal(ctx context.Context, principalID string, reason string, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE perch.login_sessions
		SET active = FALSE, end_reason = $2, ended_at = $3
		WHERE principal_id = $1 AND active = TRUE
		RETURNING id
	`, principalID, reason, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

// CloseTimedOut closes dependent sessions that breached the idle or absolute
// timeout. Absolute takes precedence when both windows are breached.
func (s *PostgresSessionStore) CloseTimedOut(ctx context.Context, cfg Config, now time.Time) ([]ClosedSession, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE perch.login_sessions
		SET active = FALSE,
		    ended_at = $1,
		    end_reason = CASE
		        WHEN created_at <= $2 THEN 'expired_absolute'
		        ELSE 'expired_idle'
		    END
		WHERE role = 'dependent'
		  AND active = TRUE
		  AND (created_at <= $2 OR last_activity_at <= $3)
		RETURNING id, principal_id, end_reason
	`, now, now.Add(-cfg.DependentAbsoluteTimeout), now.Add(-cfg.DependentIdleTimeout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closed []ClosedSession
	for rows.Next() {
		var c ClosedSession
		if err := rows.Scan(&c.ID, &c.PrincipalID, &c.Reason); err != nil {
			return nil, err
		}
		closed = append(closed, c)
	}
	return closed, rows.Err()
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
