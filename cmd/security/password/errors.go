package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrPINMalformed     = errors.New("pin malformed")
	ErrInvalidHash      = errors.New("invalid secret hash")
)
