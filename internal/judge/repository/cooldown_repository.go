package repository

import (
	"context"
	"time"

	"codejudge/internal/common/cache"
	appErr "codejudge/pkg/errors"
)

const cooldownKeyPrefix = "submit_cooldown:"

// CooldownRepository limits each user to one submission per window.
type CooldownRepository struct {
	cache  cache.BasicOps
	window time.Duration
}

// NewCooldownRepository creates a repository. A non-positive window disables the cooldown.
func NewCooldownRepository(cacheClient cache.BasicOps, window time.Duration) *CooldownRepository {
	return &CooldownRepository{cache: cacheClient, window: window}
}

// Acquire starts a cooldown for userID or returns SubmitTooFrequently with the
// remaining wait.
func (r *CooldownRepository) Acquire(ctx context.Context, userID string) error {
	if r == nil || r.cache == nil || r.window <= 0 {
		return nil
	}
	if userID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	key := cooldownKeyPrefix + userID
	ok, err := r.cache.SetNX(ctx, key, "1", r.window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "acquire submit cooldown failed")
	}
	if ok {
		return nil
	}
	wait := r.window
	if ttl, err := r.cache.TTL(ctx, key); err == nil && ttl > 0 {
		wait = ttl
	}
	return appErr.Newf(appErr.SubmitTooFrequently, "please wait %ds before submitting again", int(wait.Round(time.Second).Seconds()))
}

// Release clears the cooldown, used when the submission could not be created.
func (r *CooldownRepository) Release(ctx context.Context, userID string) error {
	if r == nil || r.cache == nil || r.window <= 0 || userID == "" {
		return nil
	}
	return r.cache.Del(ctx, cooldownKeyPrefix+userID)
}
