package service

import (
	"context"
	"encoding/json"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Intake admits submissions announced on the message queue.
type Intake struct {
	svc      *Service
	producer mq.Producer
	retry    PoolRetry
}

// NewIntake creates a queue handler. producer may be nil to disable requeueing.
func NewIntake(svc *Service, producer mq.Producer, retry PoolRetry) *Intake {
	return &Intake{svc: svc, producer: producer, retry: retry}
}

// HandleMessage decodes a judge request and admits it. Requests that can never
// succeed are acknowledged; a full dispatcher requeues with backoff.
func (i *Intake) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop malformed judge message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		logger.Warn(ctx, "drop judge message without submission id", zap.String("message_id", msg.ID))
		return nil
	}
	ctx = logger.WithSubmission(ctx, payload.SubmissionID)

	err := i.svc.SubmitForJudging(ctx, payload.SubmissionID)
	switch {
	case err == nil:
		return nil
	case appErr.Is(err, appErr.JudgeDuplicate),
		appErr.Is(err, appErr.SubmissionAlreadyJudged),
		appErr.Is(err, appErr.SubmissionNotFound),
		appErr.Is(err, appErr.ValidationFailed):
		logger.Info(ctx, "judge message ignored", zap.String("submission_id", payload.SubmissionID), zap.Error(err))
		return nil
	case appErr.Is(err, appErr.JudgeQueueFull):
		if i.producer == nil || i.retry.Topic == "" {
			return err
		}
		return RequeueForPoolFull(ctx, i.producer, i.retry, msg)
	default:
		return err
	}
}
