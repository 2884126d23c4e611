package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy enables reading the client IP from X-Forwarded-For. Only
	// safe behind a proxy that strips the header from client traffic.
	TrustProxy bool

	// MaxBodyBytes caps request body size for all auth endpoints.
	MaxBodyBytes int64

	// AuditEnabled controls writing audit rows to perch.audit_log.
	AuditEnabled bool
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("PERCH_API_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("PERCH_API_MAX_BODY_BYTES", 1<<20), // 1 MiB
		AuditEnabled: envBool("PERCH_API_AUDIT_ENABLED", true),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
