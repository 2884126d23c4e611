package identity

import "strings"

// NormalizeUsername canonicalizes a dependent username: trim and lower-case.
// The same form is stored in username_norm, matched on login, and used as
// the lockout identifier, so every caller must normalize the same way.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail canonicalizes a guardian email address the same way
// usernames are: trim and lower-case, no address-part rewriting.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
