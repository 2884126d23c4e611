package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTLs per principal class, refresh-token policy,
// the two dependent timeout policies, clock skew tolerance, refresh entropy
// size, and the PASETO v4 signing key.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// GuardianAccessTTL is the guardian access-token lifetime.
	GuardianAccessTTL time.Duration

	// GuardianAccessTTLRelaxed replaces GuardianAccessTTL when RelaxedMode is
	// set (non-production convenience; refused in production by the app-level
	// security policy).
	GuardianAccessTTLRelaxed time.Duration
	RelaxedMode              bool

	// DependentAccessTTL is the dependent access-token lifetime. It is fixed:
	// relaxed mode never applies to dependents.
	DependentAccessTTL time.Duration

	// RefreshTTL is the refresh-token lifetime for both principal classes.
	RefreshTTL time.Duration

	// Dependent session timeout policies. Either breach expires the session.
	DependentIdleTimeout     time.Duration
	DependentAbsoluteTimeout time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:                   "perch",
		GuardianAccessTTL:        15 * time.Minute,
		GuardianAccessTTLRelaxed: 2 * time.Hour,
		RelaxedMode:              false,
		DependentAccessTTL:       20 * time.Minute,
		RefreshTTL:               7 * 24 * time.Hour,
		DependentIdleTimeout:     20 * time.Minute,
		DependentAbsoluteTimeout: 2 * time.Hour,
		ClockSkew:                30 * time.Second,
		RefreshTokenBytes:        32,
	}
}

// CacheTTL is the session-cache entry lifetime. It equals the idle timeout:
// an entry that has not been touched for the idle window must not answer.
func (c Config) CacheTTL() time.Duration {
	return c.DependentIdleTimeout
}

// AccessTTLFor returns the access-token lifetime for a principal role string.
func (c Config) AccessTTLFor(role string) time.Duration {
	if role == "dependent" {
		return c.DependentAccessTTL
	}
	if c.RelaxedMode {
		return c.GuardianAccessTTLRelaxed
	}
	return c.GuardianAccessTTL
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PERCH_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - PERCH_AUTH_ISSUER
//   - PERCH_AUTH_GUARDIAN_ACCESS_TTL
//   - PERCH_AUTH_GUARDIAN_ACCESS_TTL_RELAXED
//   - PERCH_AUTH_RELAXED_MODE
//   - PERCH_AUTH_DEPENDENT_ACCESS_TTL
//   - PERCH_AUTH_REFRESH_TTL
//   - PERCH_AUTH_DEPENDENT_IDLE_TIMEOUT
//   - PERCH_AUTH_DEPENDENT_ABSOLUTE_TIMEOUT
//   - PERCH_AUTH_CLOCK_SKEW
//   - PERCH_AUTH_REFRESH_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PERCH_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	for _, f := range []struct {
		env string
		dst *time.Duration
	}{
		{"PERCH_AUTH_GUARDIAN_ACCESS_TTL", &cfg.GuardianAccessTTL},
		{"PERCH_AUTH_GUARDIAN_ACCESS_TTL_RELAXED", &cfg.GuardianAccessTTLRelaxed},
		{"PERCH_AUTH_DEPENDENT_ACCESS_TTL", &cfg.DependentAccessTTL},
		{"PERCH_AUTH_REFRESH_TTL", &cfg.RefreshTTL},
		{"PERCH_AUTH_DEPENDENT_IDLE_TIMEOUT", &cfg.DependentIdleTimeout},
		{"PERCH_AUTH_DEPENDENT_ABSOLUTE_TIMEOUT", &cfg.DependentAbsoluteTimeout},
	} {
		if v := os.Getenv(f.env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return Config{}, ErrConfig
			}
			*f.dst = d
		}
	}

	if v := os.Getenv("PERCH_AUTH_RELAXED_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RelaxedMode = b
	}

	if v := os.Getenv("PERCH_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("PERCH_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("PERCH_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Invariants: the idle window can never exceed the absolute cap, and the
	// dependent access token must not outlive the idle window.
	if cfg.DependentIdleTimeout > cfg.DependentAbsoluteTimeout {
		return Config{}, ErrConfig
	}
	if cfg.DependentAccessTTL > cfg.DependentAbsoluteTimeout {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
