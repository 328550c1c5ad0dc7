package service

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// SolvedMarker records solved problems.
type SolvedMarker interface {
	MarkSolved(ctx context.Context, userID, problemID string) error
}

// Notifier fans persisted transitions out to the status cache, the final
// status topic, the solved set and metrics. Every side effect is best effort.
type Notifier struct {
	statuses  StatusStore
	publisher repository.StatusEventPublisher
	solved    SolvedMarker
	recorder  observer.JudgeRecorder
	timeout   time.Duration
}

var _ orchestrator.Listener = (*Notifier)(nil)

// NewNotifier creates a notifier. Any dependency may be nil.
func NewNotifier(statuses StatusStore, publisher repository.StatusEventPublisher, solved SolvedMarker, recorder observer.JudgeRecorder, timeout time.Duration) *Notifier {
	if recorder == nil {
		recorder = observer.NoopMetricsRecorder{}
	}
	return &Notifier{
		statuses:  statuses,
		publisher: publisher,
		solved:    solved,
		recorder:  recorder,
		timeout:   timeout,
	}
}

// OnTransition caches every persisted status.
func (n *Notifier) OnTransition(ctx context.Context, sub model.Submission) {
	if sub.Status.IsTerminal() {
		// OnFinal writes the terminal view with its summary.
		return
	}
	n.saveStatus(ctx, model.StatusFromSubmission(sub))
}

// OnFinal caches, publishes and records a final verdict.
func (n *Notifier) OnFinal(ctx context.Context, final orchestrator.Final) {
	sub := final.Submission
	status := model.StatusFromSubmission(sub)
	status.Summary = final.Summary
	n.saveStatus(ctx, status)

	if n.publisher != nil {
		ctxPub, cancel := n.withTimeout(ctx)
		if err := n.publisher.PublishFinalStatus(ctxPub, status); err != nil {
			logger.Warn(ctx, "publish final status failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
		cancel()
	}
	if n.solved != nil && sub.Status == model.StatusAccepted && sub.Mode != model.ModeRun {
		ctxDB, cancel := n.withTimeout(ctx)
		if err := n.solved.MarkSolved(ctxDB, sub.UserID, sub.ProblemID); err != nil {
			logger.Warn(ctx, "record solved problem failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
		cancel()
	}
	n.recorder.ObserveVerdict(ctx, string(sub.Language), string(sub.Status), final.Elapsed)
}

func (n *Notifier) saveStatus(ctx context.Context, status model.JudgeStatus) {
	if n.statuses == nil {
		return
	}
	ctxStatus, cancel := n.withTimeout(ctx)
	defer cancel()
	if err := n.statuses.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "cache status failed", zap.String("submission_id", status.SubmissionID), zap.Error(err))
	}
}

func (n *Notifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, n.timeout)
}
