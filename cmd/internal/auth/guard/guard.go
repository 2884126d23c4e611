package guard

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls lockout thresholds. The identifier threshold is the
// primary control; the IP threshold is a coarser backstop against spraying
// across many identifiers from one address.
type Config struct {
	MaxFailures      int
	MaxFailuresPerIP int
	Window           time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		MaxFailuresPerIP: 50,
		Window:           time.Hour,
	}
}

// LoadConfigFromEnv loads thresholds from PERCH_LOCKOUT_* variables, falling
// back to defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, f := range []struct {
		env string
		dst *int
	}{
		{"PERCH_LOCKOUT_MAX_FAILURES", &cfg.MaxFailures},
		{"PERCH_LOCKOUT_MAX_FAILURES_PER_IP", &cfg.MaxFailuresPerIP},
	} {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return Config{}, fmt.Errorf("guard: invalid %s: %q", f.env, v)
			}
			*f.dst = n
		}
	}

	if v := os.Getenv("PERCH_LOCKOUT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("guard: invalid PERCH_LOCKOUT_WINDOW: %q", v)
		}
		cfg.Window = d
	}

	return cfg, nil
}

// LockoutError reports that an identifier or IP is locked out. RetryAfter is
// the time until the oldest counted failure ages out of the window.
type LockoutError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("guard: too many failed attempts for %q, retry after %s", e.Identifier, e.RetryAfter)
}

// Guard decides whether a login attempt may proceed.
type Guard struct {
	cfg   Config
	store Store
}

// New constructs a Guard over the given attempt store.
func New(cfg Config, store Store) *Guard {
	return &Guard{cfg: cfg, store: store}
}

// Check returns a *LockoutError when the identifier or IP has exceeded its
// threshold inside the rolling window, and nil when the attempt may proceed.
func (g *Guard) Check(ctx context.Context, now time.Time, identifier, ip string) error {
	since := now.Add(-g.cfg.Window)

	count, oldest, err := g.store.CountSince(ctx, identifier, since)
	if err != nil {
		return err
	}
	if count >= g.cfg.MaxFailures {
		return &LockoutError{
			Identifier: identifier,
			RetryAfter: retryAfter(now, oldest, g.cfg.Window),
		}
	}

	if ip != "" {
		count, oldest, err = g.store.CountIPSince(ctx, ip, since)
		if err != nil {
			return err
		}
		if count >= g.cfg.MaxFailuresPerIP {
			return &LockoutError{
				Identifier: identifier,
				RetryAfter: retryAfter(now, oldest, g.cfg.Window),
			}
		}
	}

	return nil
}

// RecordFailure stores one failed attempt. reason names what went wrong
// ("invalid_credentials", "account_inactive"); it is kept for forensics and
// plays no part in threshold counting.
func (g *Guard) RecordFailure(ctx context.Context, now time.Time, identifier, ip, reason string) error {
	return g.store.Record(ctx, FailedAttempt{
		Identifier: identifier,
		IP:         ip,
		Reason:     reason,
		At:         now,
	})
}

// RecordSuccess clears the identifier's failure history so a recovered user
// starts with a clean slate. IP counts are left alone.
func (g *Guard) RecordSuccess(ctx context.Context, identifier string) error {
	return g.store.ClearIdentifier(ctx, identifier)
}

// Sweep deletes attempts older than the window.
func (g *Guard) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return g.store.DeleteBefore(ctx, now.Add(-g.cfg.Window))
}

func retryAfter(now, oldest time.Time, window time.Duration) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
