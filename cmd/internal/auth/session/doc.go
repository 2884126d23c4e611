// Package session implements perch's credential-session core.
//
// It covers signed access-token issuance (PASETO v4.public), opaque
// refresh-token rotation with exactly-once redemption, a dual-store session
// model (Postgres as the correctness-authoritative record, Redis as a
// best-effort TTL cache), idle/absolute timeout enforcement, revocation, and
// the access-token denylist.
//
// Access tokens are short-lived and self-contained. Refresh tokens are opaque
// random strings stored only as hashes (HMAC-SHA256 when PERCH_TOKEN_HMAC_KEY
// is set; otherwise SHA-256 for dev).
//
// The one hard mutual-exclusion boundary is refresh redemption: the
// revoked=false -> true flip is a conditional update inside a single storage
// transaction, so exactly one of N concurrent redemptions wins regardless of
// process scheduling. Cache failures are absorbed and logged everywhere; the
// durable store alone decides validity.
//
// Transport (HTTP) integration is intentionally out of scope here.
package session
