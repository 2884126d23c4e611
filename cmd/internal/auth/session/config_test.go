package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()
	t.Setenv("PERCH_PASETO_V4_SECRET_KEY_HEX", key)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.GuardianAccessTTL != 15*time.Minute {
		t.Fatalf("GuardianAccessTTL = %v", cfg.GuardianAccessTTL)
	}
	if cfg.DependentAccessTTL != 20*time.Minute {
		t.Fatalf("DependentAccessTTL = %v", cfg.DependentAccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("RefreshTTL = %v", cfg.RefreshTTL)
	}
	if cfg.DependentIdleTimeout != 20*time.Minute || cfg.DependentAbsoluteTimeout != 2*time.Hour {
		t.Fatalf("timeouts = %v / %v", cfg.DependentIdleTimeout, cfg.DependentAbsoluteTimeout)
	}
	if cfg.RelaxedMode {
		t.Fatalf("RelaxedMode on by default")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()
	t.Setenv("PERCH_PASETO_V4_SECRET_KEY_HEX", key)
	t.Setenv("PERCH_AUTH_ISSUER", "perch-staging")
	t.Setenv("PERCH_AUTH_DEPENDENT_IDLE_TIMEOUT", "10m")
	t.Setenv("PERCH_AUTH_RELAXED_MODE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "perch-staging" {
		t.Fatalf("Issuer = %q", cfg.Issuer)
	}
	if cfg.DependentIdleTimeout != 10*time.Minute {
		t.Fatalf("DependentIdleTimeout = %v", cfg.DependentIdleTimeout)
	}
	if !cfg.RelaxedMode {
		t.Fatalf("RelaxedMode not set")
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()

	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing key", map[string]string{}},
		{"bad duration", map[string]string{
			"PERCH_PASETO_V4_SECRET_KEY_HEX": key,
			"PERCH_AUTH_REFRESH_TTL":         "soon",
		}},
		{"negative duration", map[string]string{
			"PERCH_PASETO_V4_SECRET_KEY_HEX":    key,
			"PERCH_AUTH_DEPENDENT_IDLE_TIMEOUT": "-5m",
		}},
		{"idle beyond absolute", map[string]string{
			"PERCH_PASETO_V4_SECRET_KEY_HEX":    key,
			"PERCH_AUTH_DEPENDENT_IDLE_TIMEOUT": "3h",
		}},
		{"token bytes too small", map[string]string{
			"PERCH_PASETO_V4_SECRET_KEY_HEX": key,
			"PERCH_AUTH_REFRESH_TOKEN_BYTES": "8",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PERCH_PASETO_V4_SECRET_KEY_HEX", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("%s: err = %v, want ErrConfig", tc.name, err)
			}
		})
	}
}

func TestConfig_AccessTTLFor(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AccessTTLFor("guardian") != 15*time.Minute {
		t.Fatalf("guardian ttl")
	}
	if cfg.AccessTTLFor("dependent") != 20*time.Minute {
		t.Fatalf("dependent ttl")
	}
	cfg.RelaxedMode = true
	if cfg.AccessTTLFor("guardian") != 2*time.Hour {
		t.Fatalf("relaxed guardian ttl")
	}
	// Relaxed mode never widens the dependent token.
	if cfg.AccessTTLFor("dependent") != 20*time.Minute {
		t.Fatalf("relaxed dependent ttl")
	}
}
