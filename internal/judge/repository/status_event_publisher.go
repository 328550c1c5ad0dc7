package repository

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// Headers set on every final status event so consumers can route without
// decoding the body.
const (
	HeaderEventType = "x-event-type"
	HeaderVerdict   = "x-verdict"
	HeaderProblemID = "x-problem-id"
	HeaderUserID    = "x-user-id"
)

// StatusEventPublisher announces that a submission reached its final verdict.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, status model.JudgeStatus) error
}

// MQStatusEventPublisher writes final verdicts to a Kafka topic, keyed by
// submission id.
type MQStatusEventPublisher struct {
	queue mq.Producer
	topic string
	now   func() time.Time
}

func NewMQStatusEventPublisher(queue mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic, now: time.Now}
}

func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, status model.JudgeStatus) error {
	switch {
	case p == nil || p.queue == nil:
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	case p.topic == "":
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	case status.SubmissionID == "":
		return appErr.ValidationError("submission_id", "required")
	case !status.Status.IsTerminal():
		return appErr.Newf(appErr.InvalidParams, "status %s is not final", status.Status)
	}

	payload, err := json.Marshal(model.StatusEvent{
		Type:      model.StatusEventFinal,
		Status:    status,
		CreatedAt: p.now().Unix(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode status event failed")
	}
	msg := mq.NewMessage(payload)
	msg.ID = status.SubmissionID
	msg.SetHeader(HeaderEventType, string(model.StatusEventFinal))
	msg.SetHeader(HeaderVerdict, string(status.Status))
	if status.ProblemID != "" {
		msg.SetHeader(HeaderProblemID, status.ProblemID)
	}
	if status.UserID != "" {
		msg.SetHeader(HeaderUserID, status.UserID)
	}
	if err := p.queue.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish final status for %s failed", status.SubmissionID)
	}
	return nil
}
