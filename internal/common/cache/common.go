package cache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"
)

// NullCacheValue marks a cached absence so repeated misses skip the source.
const NullCacheValue = "$NULL$"

// Aside configures GetWithCached for one value type.
type Aside[T any] struct {
	TTL time.Duration
	// EmptyTTL bounds how long a miss is remembered.
	EmptyTTL time.Duration
	// IsEmpty reports a fetched value that means "does not exist".
	IsEmpty func(T) bool
}

// GetWithCached reads key as JSON, falling back to fetch on a miss and
// writing the result back. Misses are cached as NullCacheValue and returned
// as the zero value. Cache failures never fail the call.
func GetWithCached[T any](ctx context.Context, ops BasicOps, key string, opts Aside[T], fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, err := ops.Get(ctx, key); err == nil {
		switch raw {
		case "":
		case NullCacheValue:
			return zero, nil
		default:
			var v T
			if json.Unmarshal([]byte(raw), &v) == nil {
				return v, nil
			}
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	if opts.IsEmpty != nil && opts.IsEmpty(v) {
		_ = ops.Set(ctx, key, NullCacheValue, opts.EmptyTTL)
		return zero, nil
	}
	if data, err := json.Marshal(v); err == nil {
		_ = ops.Set(ctx, key, string(data), JitterTTL(opts.TTL))
	}
	return v, nil
}

// JitterTTL trims up to 10% off ttl so keys written together expire apart.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(spread+1))
}
