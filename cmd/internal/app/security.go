package app

import (
	"errors"

	"perch/cmd/security/token"
)

// ValidateSecurityConfig enforces the security policy at startup.
//
// Fail-fast: a production runtime must never come up with weakened token
// hashing or widened token lifetimes.
func ValidateSecurityConfig(cfg Config, relaxedTokens bool) error {
	if cfg.Production && relaxedTokens {
		return errors.New("security policy: PERCH_AUTH_RELAXED_MODE is not allowed with PERCH_PRODUCTION=true")
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: PERCH_REQUIRE_TOKEN_HMAC=true but PERCH_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: PERCH_REQUIRE_TOKEN_HMAC=true but PERCH_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: PERCH_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
