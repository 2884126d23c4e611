package identity

import (
	"context"

	"perch/cmd/security/password"
)

// Verifier checks presented secrets against stored hashes.
//
// Security contract:
// - Unknown identifier and wrong secret map to the identical ErrInvalidCredentials
//   to prevent account enumeration.
// - Unknown identifiers still pay the cost of one Argon2id verification against a
//   dummy hash, so response timing does not reveal account existence.
// - Storage failures are returned as-is; they are an internal error class and must
//   never be remapped to ErrInvalidCredentials (remapping would corrupt lockout
//   accounting upstream).
type Verifier struct {
	store Store
	cfg   password.Config

	dummyHash string
}

// NewVerifier constructs a Verifier. The dummy hash is computed once at startup.
func NewVerifier(store Store, cfg password.Config) (*Verifier, error) {
	if store == nil {
		return nil, OpError{Op: "identity.NewVerifier", Kind: ErrInvalidInput, Msg: "nil store"}
	}

	v := &Verifier{store: store, cfg: cfg}

	if hash, err := cfg.HashPassword("dummy-password-for-timing-only"); err == nil {
		v.dummyHash = hash
	}

	return v, nil
}

// VerifyGuardian authenticates a guardian by email and password.
func (v *Verifier) VerifyGuardian(ctx context.Context, email, pw string) (Guardian, error) {
	const op = "identity.VerifyGuardian"

	g, err := v.store.GetGuardianByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			v.burnVerify(pw)
			return Guardian{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return Guardian{}, err
	}

	ok, err := v.cfg.Verify(g.PasswordHash, pw)
	if err != nil || !ok {
		return Guardian{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	return g, nil
}

// VerifyDependent authenticates a dependent by username and PIN.
//
// Inactivity is only revealed after the PIN verified; a wrong PIN on an inactive
// account still reads as invalid credentials.
func (v *Verifier) VerifyDependent(ctx context.Context, username, pin string) (Dependent, error) {
	const op = "identity.VerifyDependent"

	d, err := v.store.GetDependentByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if IsNotFound(err) {
			v.burnVerify(pin)
			return Dependent{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return Dependent{}, err
	}

	ok, err := v.cfg.Verify(d.PINHash, pin)
	if err != nil || !ok {
		return Dependent{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if !d.Active {
		return Dependent{}, OpError{Op: op, Kind: ErrAccountInactive}
	}

	return d, nil
}

// burnVerify performs a throwaway hash comparison for timing resistance.
func (v *Verifier) burnVerify(secret string) {
	if v.dummyHash == "" {
		return
	}
	_, _ = v.cfg.Verify(v.dummyHash, secret)
}
