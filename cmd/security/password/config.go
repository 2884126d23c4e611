package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls secret validation and anti-DoS boundaries.
type Policy struct {
	PasswordMinLength int
	PasswordMaxLength int
	PINMinDigits      int
	PINMaxDigits      int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline suitable for interactive logins.
// Values are intentionally conservative and can be overridden via env.
func DefaultConfig() Config {
	// CPU-aware parallelism, clamped to [1..4] to keep resource usage
	// predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			PasswordMinLength: 8,
			PasswordMaxLength: 256,
			PINMinDigits:      4,
			PINMaxDigits:      6,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - PERCH_PASSWORD_MIN_LEN
// - PERCH_PASSWORD_MAX_LEN
// - PERCH_PIN_MIN_DIGITS
// - PERCH_PIN_MAX_DIGITS
// - PERCH_ARGON2_MEMORY_KIB
// - PERCH_ARGON2_ITERATIONS
// - PERCH_ARGON2_PARALLELISM
// - PERCH_ARGON2_SALT_LEN
// - PERCH_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("PERCH_PASSWORD_MIN_LEN"); ok {
		n, err := atoiBounded(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.PasswordMinLength = n
	}

	if v, ok := os.LookupEnv("PERCH_PASSWORD_MAX_LEN"); ok {
		n, err := atoiBounded(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.PasswordMaxLength = n
	}

	if v, ok := os.LookupEnv("PERCH_PIN_MIN_DIGITS"); ok {
		n, err := atoiBounded(v, 4, 12)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_PIN_MIN_DIGITS: %w", err)
		}
		cfg.Policy.PINMinDigits = n
	}

	if v, ok := os.LookupEnv("PERCH_PIN_MAX_DIGITS"); ok {
		n, err := atoiBounded(v, 4, 12)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_PIN_MAX_DIGITS: %w", err)
		}
		cfg.Policy.PINMaxDigits = n
	}

	if v, ok := os.LookupEnv("PERCH_ARGON2_MEMORY_KIB"); ok {
		n, err := atoiBounded(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = uint32(n) // #nosec G115 -- bounded above.
	}

	if v, ok := os.LookupEnv("PERCH_ARGON2_ITERATIONS"); ok {
		n, err := atoiBounded(v, 1, 32)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = uint32(n) // #nosec G115 -- bounded above.
	}

	if v, ok := os.LookupEnv("PERCH_ARGON2_PARALLELISM"); ok {
		n, err := atoiBounded(v, 1, 16)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded above.
	}

	if v, ok := os.LookupEnv("PERCH_ARGON2_SALT_LEN"); ok {
		n, err := atoiBounded(v, 8, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_ARGON2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = uint32(n) // #nosec G115 -- bounded above.
	}

	if v, ok := os.LookupEnv("PERCH_ARGON2_KEY_LEN"); ok {
		n, err := atoiBounded(v, 16, 128)
		if err != nil {
			return Config{}, fmt.Errorf("PERCH_ARGON2_KEY_LEN: %w", err)
		}
		cfg.Params.KeyLength = uint32(n) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.PINMinDigits > cfg.Policy.PINMaxDigits {
		return Config{}, fmt.Errorf("pin policy: min digits %d > max digits %d",
			cfg.Policy.PINMinDigits, cfg.Policy.PINMaxDigits)
	}

	return cfg, nil
}

func atoiBounded(v string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range [%d..%d]", n, lo, hi)
	}
	return n, nil
}
