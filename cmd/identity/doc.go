// Package identity implements perch's principal and credential foundation.
//
// It defines the two principal classes (guardians and dependents), verifies
// presented secrets against stored Argon2id hashes, and provides the
// Postgres-backed principal store used by the auth layers.
//
// This package is intentionally dependency-light and security-first.
package identity
