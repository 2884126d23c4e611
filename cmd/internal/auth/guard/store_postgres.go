package guard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (perch.failed_attempts).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed attempt store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Record stores one failed attempt.
func (s *PostgresStore) Record(ctx context.Context, attempt FailedAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO perch.failed_attempts (identifier, ip, reason, attempted_at)
		VALUES ($1, $2, $3, $4)
	`, attempt.Identifier, nullIfEmpty(attempt.IP), attempt.Reason, attempt.At)
	return err
}

// CountSince counts failures for an identifier inside the window.
func (s *PostgresStore) CountSince(ctx context.Context, identifier string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(attempted_at)
		FROM perch.failed_attempts
		WHERE identifier = $1 AND attempted_at >= $2
	`, identifier, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

// CountIPSince counts failures from an IP inside the window.
func (s *PostgresStore) CountIPSince(ctx context.Context, ip string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(attempted_at)
		FROM perch.failed_attempts
		WHERE ip = $1 AND attempted_at >= $2
	`, ip, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

// ClearIdentifier removes all failures for an identifier.
func (s *PostgresStore) ClearIdentifier(ctx context.Context, identifier string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM perch.failed_attempts WHERE identifier = $1
	`, identifier)
	return err
}

// DeleteBefore removes failures older than cutoff.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM perch.failed_attempts WHERE attempted_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
