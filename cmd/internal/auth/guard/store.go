package guard

import (
	"context"
	"time"
)

// FailedAttempt is one recorded login failure.
type FailedAttempt struct {
	Identifier string
	IP         string
	Reason     string
	At         time.Time
}

// Store persists failed attempts.
type Store interface {
	Record(ctx context.Context, attempt FailedAttempt) error

	// CountSince counts failures for an identifier at or after since, and
	// returns the oldest counted timestamp. oldest is the zero time when
	// the count is zero.
	CountSince(ctx context.Context, identifier string, since time.Time) (int, time.Time, error)

	// CountIPSince is CountSince keyed by source IP.
	CountIPSince(ctx context.Context, ip string, since time.Time) (int, time.Time, error)

	// ClearIdentifier removes all failures for an identifier.
	ClearIdentifier(ctx context.Context, identifier string) error

	// DeleteBefore removes failures older than cutoff and returns the count.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
