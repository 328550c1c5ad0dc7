package orchestrator

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// persist writes one update, retrying transient failures with capped
// exponential backoff. A terminal row is never retried.
func (o *Orchestrator) persist(ctx context.Context, submissionID string, update model.StatusUpdate) error {
	var err error
	for attempt := 0; attempt < o.cfg.PersistAttempts; attempt++ {
		if attempt > 0 {
			o.sleep(ctx, computeBackoff(attempt-1, o.cfg.PersistBackoff, o.cfg.PersistMaxBackoff))
		}
		err = o.store.Save(ctx, submissionID, update)
		if err == nil {
			return nil
		}
		if appErr.Is(err, appErr.SubmissionAlreadyJudged) || appErr.Is(err, appErr.SubmissionNotFound) {
			return err
		}
		logger.Warn(ctx, "persist status attempt failed",
			zap.String("status", string(update.Status)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
