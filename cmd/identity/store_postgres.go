package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"perch/cmd/identity/ids"
	"perch/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (perch.guardians / perch.dependents).
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  password.Config
}

// NewPostgresStore constructs a PostgresStore. The password config controls the
// Argon2id cost used when provisioning principals.
func NewPostgresStore(pool *pgxpool.Pool, cfg password.Config) (*PostgresStore, error) {
	if pool == nil {
		return nil, OpError{Op: "identity.NewPostgresStore", Kind: ErrInvalidInput, Msg: "nil pool"}
	}
	return &PostgresStore{pool: pool, cfg: cfg}, nil
}

// CreateGuardian provisions a guardian account.
func (s *PostgresStore) CreateGuardian(ctx context.Context, in CreateGuardianInput) (Guardian, error) {
	const op = "identity.CreateGuardian"

	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Guardian{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := s.cfg.HashPassword(in.Password)
	if err != nil {
		return Guardian{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Guardian{}, err
	}

	g := Guardian{
		ID:           id,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: pwHash,
		Verified:     in.Verified,
		CreatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO perch.guardians (
			id, email, email_norm, password_hash, verified, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.Email, g.EmailNorm, g.PasswordHash, g.Verified, g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Guardian{}, ConflictError{Op: op, Field: "email"}
		}
		return Guardian{}, err
	}

	return g, nil
}

// CreateDependent provisions a dependent account under an existing guardian.
func (s *PostgresStore) CreateDependent(ctx context.Context, in CreateDependentInput) (Dependent, error) {
	const op = "identity.CreateDependent"

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return Dependent{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if strings.TrimSpace(in.GuardianID) == "" {
		return Dependent{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "guardian id is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pinHash, err := s.cfg.HashPIN(in.PIN)
	if err != nil {
		return Dependent{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Dependent{}, err
	}

	d := Dependent{
		ID:           id,
		GuardianID:   in.GuardianID,
		Username:     username,
		UsernameNorm: NormalizeUsername(username),
		PINHash:      pinHash,
		Active:       true,
		CreatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO perch.dependents (
			id, guardian_id, username, username_norm, pin_hash, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.GuardianID, d.Username, d.UsernameNorm, d.PINHash, d.Active, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Dependent{}, ConflictError{Op: op, Field: "username"}
		}
		if isForeignKeyViolation(err) {
			return Dependent{}, NotFoundError{Op: op, Resource: "guardian"}
		}
		return Dependent{}, err
	}

	return d, nil
}

// GetGuardianByEmail loads a guardian by normalized email.
func (s *PostgresStore) GetGuardianByEmail(ctx context.Context, emailNorm string) (Guardian, error) {
	const op = "identity.GetGuardianByEmail"

	var g Guardian
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, email_norm, password_hash, verified, created_at
		FROM perch.guardians
		WHERE email_norm = $1
	`, emailNorm).Scan(&g.ID, &g.Email, &g.EmailNorm, &g.PasswordHash, &g.Verified, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Guardian{}, NotFoundError{Op: op, Resource: "guardian"}
	}
	if err != nil {
		return Guardian{}, err
	}
	return g, nil
}

// GetGuardianByID loads a guardian by id.
func (s *PostgresStore) GetGuardianByID(ctx context.Context, id string) (Guardian, error) {
	const op = "identity.GetGuardianByID"

	var g Guardian
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, email_norm, password_hash, verified, created_at
		FROM perch.guardians
		WHERE id = $1
	`, id).Scan(&g.ID, &g.Email, &g.EmailNorm, &g.PasswordHash, &g.Verified, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Guardian{}, NotFoundError{Op: op, Resource: "guardian"}
	}
	if err != nil {
		return Guardian{}, err
	}
	return g, nil
}

// GetDependentByUsername loads a dependent by normalized username.
func (s *PostgresStore) GetDependentByUsername(ctx context.Context, usernameNorm string) (Dependent, error) {
	const op = "identity.GetDependentByUsername"

	var d Dependent
	err := s.pool.QueryRow(ctx, `
		SELECT id, guardian_id, username, username_norm, pin_hash, active, created_at
		FROM perch.dependents
		WHERE username_norm = $1
	`, usernameNorm).Scan(&d.ID, &d.GuardianID, &d.Username, &d.UsernameNorm, &d.PINHash, &d.Active, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dependent{}, NotFoundError{Op: op, Resource: "dependent"}
	}
	if err != nil {
		return Dependent{}, err
	}
	return d, nil
}

// GetDependentByID loads a dependent by id.
func (s *PostgresStore) GetDependentByID(ctx context.Context, id string) (Dependent, error) {
	const op = "identity.GetDependentByID"

	var d Dependent
	err := s.pool.QueryRow(ctx, `
		SELECT id, guardian_id, username, username_norm, pin_hash, active, created_at
		FROM perch.dependents
		WHERE id = $1
	`, id).Scan(&d.ID, &d.GuardianID, &d.Username, &d.UsernameNorm, &d.PINHash, &d.Active, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dependent{}, NotFoundError{Op: op, Resource: "dependent"}
	}
	if err != nil {
		return Dependent{}, err
	}
	return d, nil
}

// SetDependentActive flips the dependent's active flag.
func (s *PostgresStore) SetDependentActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "identity.SetDependentActive"

	tag, err := s.pool.Exec(ctx, `
		UPDATE perch.dependents
		SET active = $2, updated_at = $3
		WHERE id = $1
	`, id, active, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "dependent"}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
