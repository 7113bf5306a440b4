package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a CounterStore.Increment call.
type Result struct {
	// Allowed is false when the counter already reached the limit,
	// in this case it was not incremented.
	Allowed bool
	// Count is the counter value after the call.
	Count int
	// ResetAt is the end of the current window.
	ResetAt time.Time
}

// Counter is the state of a counter in a CounterStore.
type Counter struct {
	Count   int
	ResetAt time.Time
}

// CounterStore holds the fixed window counters. Implementations must
// make Increment atomic per key.
type CounterStore interface {
	// Increment starts a new window with count 1 if the counter
	// of key is absent or expired, else increments it unless it
	// already reached limit.
	Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// Get returns the counter of key, ok is false when it is
	// absent or expired.
	Get(ctx context.Context, key string) (c Counter, ok bool, err error)

	// Reset removes the counter of key.
	Reset(ctx context.Context, key string) error

	// Close releases the resources of the store.
	Close()
}
