// Package password provides secret hashing and verification for perch.
//
// It implements Argon2id hashing using a PHC-like encoded string format and covers
// both guardian passwords and dependent PINs:
// - Configurable Argon2id parameters (via environment variables)
// - Password and PIN policy validation
// - Strict hash decoding and verification with anti-DoS bounds
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses hashes with parameters that exceed reasonable bounds.
// - PINs are short by nature; the brute-force protection for them lives in
//   cmd/internal/auth/guard, not here.
package password
