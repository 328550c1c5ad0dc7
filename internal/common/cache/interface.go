package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface used by the judge: status snapshots,
// submit cooldowns, in-flight claims and data-pack locks.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" and a nil error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl never expires
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// LockOps defines token-guarded distributed locks.
// Release and Refresh only act when the stored token still matches.
type LockOps interface {
	// TryLock attempts to acquire a lock owned by token
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases the lock if token still owns it
	Unlock(ctx context.Context, key, token string) error

	// ExtendLock extends the TTL if token still owns the lock
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}
