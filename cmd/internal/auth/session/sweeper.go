package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired refresh tokens and closes timed-out
// dependent sessions. Timeouts are still enforced at every point of use; the
// sweeper only keeps the tables honest for sessions nobody touches again.
type Sweeper struct {
	refresh  RefreshStore
	monitor  *Monitor
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper constructs a Sweeper. A non-positive interval defaults to five
// minutes.
func NewSweeper(refresh RefreshStore, monitor *Monitor, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{refresh: refresh, monitor: monitor, interval: interval, log: log}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	deleted, err := s.refresh.DeleteExpired(ctx, now)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.sweep.refresh_fail", "err", err)
	} else if deleted > 0 {
		s.log.InfoContext(ctx, "auth.sweep.refresh", "deleted", deleted)
	}

	closed, err := s.monitor.EnforceTimeouts(ctx, now)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.sweep.sessions_fail", "err", err)
	} else if len(closed) > 0 {
		s.log.InfoContext(ctx, "auth.sweep.sessions", "closed", len(closed))
	}
}
