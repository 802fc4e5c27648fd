package ratelimit

import (
	"context"
	"time"
)

// Record is one client's counter for the current window.
type Record struct {
	Count   int64
	ResetAt time.Time
}

// Store holds rate-limit records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the record for key, if any. Expired records may still be
	// returned until swept.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Increment counts one request for key at now. If key has no record or
	// its window has passed, a new window of length window opens first.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Record, error)

	// Sweep removes records whose window has passed and reports how many
	// were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Windows are tracked at millisecond precision so every store agrees on
// when a window ends.

func expired(resetAt, now time.Time) bool {
	return now.UnixMilli() > resetAt.UnixMilli()
}

func windowEnd(now time.Time, window time.Duration) time.Time {
	return time.UnixMilli(now.UnixMilli() + window.Milliseconds())
}
