package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")

	// ErrInvalidCredentials is the uniform failure for unknown identifier and
	// wrong secret alike. Callers must never be able to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrAccountInactive is returned for a deactivated dependent. It is only
	// revealed after the presented secret verified, so it leaks nothing about
	// credential correctness.
	ErrAccountInactive = errors.New("account_inactive")
)
