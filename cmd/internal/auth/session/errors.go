package session

import "errors"

var (
	// ErrNoToken is returned when no access token was presented at all.
	ErrNoToken = errors.New("no token")

	// ErrTokenMalformed is returned when an access token is not even shaped
	// like a PASETO v4.public token.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrSignatureInvalid is returned when an access token fails signature or
	// claim verification.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrTokenExpired is returned for an expired access token, and for an
	// expired refresh token (whose row is lazily deleted on observation).
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is the uniform refresh-redemption failure: absent,
	// already revoked, and lost-the-race all map here so a caller learns
	// nothing about prior redemption.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a session id matches no durable row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInvalid is returned when the backing session is in a terminal
	// state (logged out, terminated) or fails the liveness check.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExpired is returned when the idle or absolute timeout is breached.
	ErrSessionExpired = errors.New("session expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
