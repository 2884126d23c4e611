package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisURL enables the session cache and access-token denylist. With an
	// empty URL both degrade to no-ops and the durable store carries all
	// reads.
	RedisURL string

	// SweepInterval controls the background cleanup cadence.
	SweepInterval time.Duration

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy. RequireTokenHMAC forces HMAC-based refresh-token
	// hashing; Production refuses relaxed-mode token lifetimes.
	RequireTokenHMAC bool
	Production       bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PERCH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PERCH_LOG_LEVEL", "info"),
		LogFormat: EnvString("PERCH_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PERCH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PERCH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PERCH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PERCH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PERCH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PERCH_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PERCH_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PERCH_DB_MIN_CONNS", 0),

		RedisURL: EnvString("PERCH_REDIS_URL", ""),

		SweepInterval: EnvDuration("PERCH_SWEEP_INTERVAL", 5*time.Minute),

		ReadinessRequireDB: EnvBool("PERCH_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("PERCH_REQUIRE_TOKEN_HMAC", false),
		Production:       EnvBool("PERCH_PRODUCTION", false),
	}
}
