package repository

import (
	"context"
	"time"
)

// KeyValueStore is the shared mutable store behind the lock service and the
// batch state store. All mutation of shared state goes through these
// primitives; nothing else in the engine performs ad hoc read-then-write
// cycles against it.
//
// Implemented by the Redis client for clustered operation and by an
// in-process map for single-process fallback.
type KeyValueStore interface {
	// SetIfAbsent atomically stores value under key with a TTL if and only
	// if the key does not exist. Returns true when the value was stored.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals expected,
	// as a single atomic operation. Returns true when the key was deleted.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Set stores value under key with a TTL, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key, or ErrCodeNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Healthy reports whether the backing store is reachable.
	Healthy(ctx context.Context) bool
}
