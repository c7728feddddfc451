package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event IDs a consumer has already handled.
// Events are delivered at least once, so consumers claim an ID before acting
// on it and skip IDs that were claimed earlier.
type IdempotencyStore interface {
	// MarkProcessed claims eventID for ttl.
	// Returns true if the claim is new, false if the ID was seen before.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event ID has already been claimed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Release drops a claim so a later redelivery is handled again.
	Release(ctx context.Context, eventID string) error

	// Close releases resources held by the store
	Close() error
}

// IdempotencyConfig holds configuration for consumer-side deduplication
type IdempotencyConfig struct {
	// TTL bounds how long a claimed ID is remembered. It must exceed the
	// replay window of the journal reconciler.
	TTL time.Duration

	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
