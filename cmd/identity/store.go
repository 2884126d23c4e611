package identity

import (
	"context"
	"time"
)

// CreateGuardianInput describes guardian provisioning.
// Registration flows live outside this subsystem; this is the storage-level
// operation used by provisioning tooling and tests.
type CreateGuardianInput struct {
	Email    string
	Password string
	Verified bool
	Now      time.Time
}

// CreateDependentInput describes dependent provisioning under an existing guardian.
type CreateDependentInput struct {
	GuardianID string
	Username   string
	PIN        string
	Now        time.Time
}

// Store is the principal persistence boundary.
//
// Lookups by identifier take the normalized form (NormalizeEmail /
// NormalizeUsername); missing rows surface as ErrNotFound, never as a nil value.
type Store interface {
	CreateGuardian(ctx context.Context, in CreateGuardianInput) (Guardian, error)
	CreateDependent(ctx context.Context, in CreateDependentInput) (Dependent, error)

	GetGuardianByEmail(ctx context.Context, emailNorm string) (Guardian, error)
	GetGuardianByID(ctx context.Context, id string) (Guardian, error)

	GetDependentByUsername(ctx context.Context, usernameNorm string) (Dependent, error)
	GetDependentByID(ctx context.Context, id string) (Dependent, error)

	// SetDependentActive flips the dependent's active flag. Deactivation is
	// observed by live sessions at their next refresh or validate.
	SetDependentActive(ctx context.Context, id string, active bool, now time.Time) error
}
