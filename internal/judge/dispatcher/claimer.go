package dispatcher

import (
	"context"
	"time"

	"codejudge/internal/common/cache"
	appErr "codejudge/pkg/errors"
)

const (
	inflightKeyPrefix = "judge:inflight:"
	defaultClaimTTL   = 10 * time.Minute
)

// RedisClaimer stores in-flight ids as token-owned Redis keys so that several
// service instances never judge the same id at once. The TTL bounds how long a
// crashed instance can hold an id; live holders refresh it.
type RedisClaimer struct {
	locks cache.LockOps
	owner string
	ttl   time.Duration
}

// NewRedisClaimer creates a claimer. owner identifies this instance.
func NewRedisClaimer(locks cache.LockOps, owner string, ttl time.Duration) (*RedisClaimer, error) {
	if locks == nil {
		return nil, appErr.ValidationError("locks", "required")
	}
	if owner == "" {
		return nil, appErr.ValidationError("owner", "required")
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisClaimer{locks: locks, owner: owner, ttl: ttl}, nil
}

func (c *RedisClaimer) Claim(ctx context.Context, submissionID string) (bool, error) {
	return c.locks.TryLock(ctx, inflightKeyPrefix+submissionID, c.owner, c.ttl)
}

// Refresh pushes the expiry of a claim this instance still owns.
func (c *RedisClaimer) Refresh(ctx context.Context, submissionID string) (bool, error) {
	return c.locks.ExtendLock(ctx, inflightKeyPrefix+submissionID, c.owner, c.ttl)
}

func (c *RedisClaimer) Release(ctx context.Context, submissionID string) error {
	return c.locks.Unlock(ctx, inflightKeyPrefix+submissionID, c.owner)
}

// TTL is the lifetime of an unrefreshed claim.
func (c *RedisClaimer) TTL() time.Duration {
	return c.ttl
}
