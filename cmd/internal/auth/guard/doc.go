// Package guard implements brute-force protection for credential
// verification.
//
// Failed login attempts are recorded per identifier (normalized email or
// username) and per source IP. When an identifier accumulates too many
// failures inside a rolling window, further attempts are refused with a
// LockoutError before any credential check runs, so a locked identifier
// leaks nothing about whether the secret was right.
package guard
