package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionRepository persists submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, sub model.Submission) error
	Load(ctx context.Context, submissionID string) (model.Submission, error)
	ListUnfinished(ctx context.Context, idleSince time.Time, limit int) ([]string, error)
}

// SlotPool is the sandbox capacity run mode shares with judging.
type SlotPool interface {
	Acquire(ctx context.Context, wait time.Duration) (func(), error)
}

// ProblemSource resolves problem metadata.
type ProblemSource interface {
	GetMeta(ctx context.Context, problemID string) (model.ProblemMeta, error)
}

// Admitter queues a stored submission for judging.
type Admitter interface {
	Submit(ctx context.Context, submissionID string) error
}

// StatusStore caches status views.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Save(ctx context.Context, status model.JudgeStatus) error
}

// Cooldown rate-limits submissions per user.
type Cooldown interface {
	Acquire(ctx context.Context, userID string) error
	Release(ctx context.Context, userID string) error
}

const (
	defaultMaxCodeBytes = 64 * 1024
	defaultRunSlotWait  = 2 * time.Second
	defaultRecoveryIdle = 30 * time.Second

	defaultRecoveryInterval = time.Minute
)

// Config holds service dependencies and settings.
type Config struct {
	Submissions SubmissionRepository
	Problems    ProblemSource
	Tests       orchestrator.TestCaseSource
	Compiler    orchestrator.Compiler
	Evaluator   orchestrator.Evaluator
	Dispatcher  Admitter
	Statuses    StatusStore
	Cooldown    Cooldown
	// Deferred receives ids that found the dispatcher full at creation time.
	Deferred     mq.Producer
	IntakeTopic  string
	MaxCodeBytes int
	// Slots defaults to a single private slot when nil.
	Slots         SlotPool
	RunSlotWait   time.Duration
	StatusTimeout time.Duration
	// RecoveryIdle is how long a non-terminal submission must sit untouched
	// before recovery considers it orphaned.
	RecoveryIdle time.Duration
}

// Service is the entry point of the judging pipeline.
type Service struct {
	submissions   SubmissionRepository
	problems      ProblemSource
	tests         orchestrator.TestCaseSource
	compiler      orchestrator.Compiler
	eval          orchestrator.Evaluator
	dispatcher    Admitter
	statuses      StatusStore
	cooldown      Cooldown
	deferred      mq.Producer
	intakeTopic   string
	maxCodeBytes  int
	runSlotWait   time.Duration
	statusTimeout time.Duration
	recoveryIdle  time.Duration
	slots         SlotPool
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	if cfg.Tests == nil {
		return nil, fmt.Errorf("test case source is required")
	}
	if cfg.Compiler == nil || cfg.Evaluator == nil {
		return nil, fmt.Errorf("compiler and evaluator are required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Slots == nil {
		cfg.Slots = dispatcher.NewSlots(1)
	}
	if cfg.RunSlotWait <= 0 {
		cfg.RunSlotWait = defaultRunSlotWait
	}
	if cfg.RecoveryIdle <= 0 {
		cfg.RecoveryIdle = defaultRecoveryIdle
	}
	return &Service{
		submissions:   cfg.Submissions,
		problems:      cfg.Problems,
		tests:         cfg.Tests,
		compiler:      cfg.Compiler,
		eval:          cfg.Evaluator,
		dispatcher:    cfg.Dispatcher,
		statuses:      cfg.Statuses,
		cooldown:      cfg.Cooldown,
		deferred:      cfg.Deferred,
		intakeTopic:   cfg.IntakeTopic,
		maxCodeBytes:  cfg.MaxCodeBytes,
		runSlotWait:   cfg.RunSlotWait,
		statusTimeout: cfg.StatusTimeout,
		recoveryIdle:  cfg.RecoveryIdle,
		slots:         cfg.Slots,
	}, nil
}

// SubmitForJudging admits a stored submission. It returns once the id is
// queued; the verdict is read back from storage.
func (s *Service) SubmitForJudging(ctx context.Context, submissionID string) error {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	sub, err := s.submissions.Load(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		return appErr.Newf(appErr.SubmissionAlreadyJudged, "submission %s is already %s", submissionID, sub.Status)
	}
	if err := s.dispatcher.Submit(ctx, submissionID); err != nil {
		return err
	}
	logger.Info(ctx, "submission admitted", zap.String("submission_id", submissionID))
	return nil
}

// CreateRequest is a new submission from a user.
type CreateRequest struct {
	UserID    string
	ProblemID string
	Language  string
	Code      string
}

// CreateSubmission stores a Pending submission and admits it.
func (s *Service) CreateSubmission(ctx context.Context, req CreateRequest) (model.Submission, error) {
	lang, err := s.validateSource(req.UserID, req.ProblemID, req.Language, req.Code)
	if err != nil {
		return model.Submission{}, err
	}
	if _, err := s.problems.GetMeta(ctx, req.ProblemID); err != nil {
		return model.Submission{}, err
	}
	if s.cooldown != nil {
		if err := s.cooldown.Acquire(ctx, req.UserID); err != nil {
			return model.Submission{}, err
		}
	}

	now := time.Now()
	sub := model.Submission{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		ProblemID: req.ProblemID,
		Language:  lang,
		Code:      req.Code,
		Mode:      model.ModeSubmit,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		if s.cooldown != nil {
			_ = s.cooldown.Release(ctx, req.UserID)
		}
		return model.Submission{}, err
	}
	s.cacheStatus(ctx, model.StatusFromSubmission(sub))

	err = s.dispatcher.Submit(ctx, sub.ID)
	switch {
	case err == nil:
	case appErr.Is(err, appErr.JudgeQueueFull) && s.deferred != nil && s.intakeTopic != "":
		if deferErr := s.deferAdmission(ctx, sub.ID); deferErr != nil {
			return sub, err
		}
		logger.Warn(ctx, "dispatcher full, admission deferred to intake",
			zap.String("submission_id", sub.ID),
			zap.String("topic", s.intakeTopic),
		)
	default:
		return sub, err
	}
	logger.Info(ctx, "submission created",
		zap.String("submission_id", sub.ID),
		zap.String("problem_id", sub.ProblemID),
		zap.String("language", string(sub.Language)),
	)
	return sub, nil
}

// GetStatus returns the status view from the cache, falling back to storage.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	if submissionID == "" {
		return model.JudgeStatus{}, appErr.ValidationError("submission_id", "required")
	}
	if s.statuses != nil {
		status, err := s.statuses.Get(ctx, submissionID)
		if err == nil {
			return status, nil
		}
		if !appErr.Is(err, appErr.NotFound) {
			logger.Warn(ctx, "read cached status failed", zap.String("submission_id", submissionID), zap.Error(err))
		}
	}
	sub, err := s.submissions.Load(ctx, submissionID)
	if err != nil {
		return model.JudgeStatus{}, err
	}
	status := model.StatusFromSubmission(sub)
	s.cacheStatus(ctx, status)
	return status, nil
}

// Recover re-admits submissions left unfinished by a dead process, oldest
// first. Ids still claimed elsewhere are skipped until their claim lapses; a
// full dispatcher ends the pass early.
func (s *Service) Recover(ctx context.Context, limit int) (int, error) {
	ids, err := s.submissions.ListUnfinished(ctx, time.Now().Add(-s.recoveryIdle), limit)
	if err != nil {
		return 0, err
	}
	admitted, held := 0, 0
	for _, id := range ids {
		err := s.SubmitForJudging(ctx, id)
		switch {
		case err == nil:
			admitted++
		case appErr.Is(err, appErr.JudgeDuplicate):
			held++
			logger.Debug(ctx, "recovery skipped claimed submission", zap.String("submission_id", id))
		case appErr.Is(err, appErr.SubmissionAlreadyJudged):
		case appErr.Is(err, appErr.JudgeQueueFull):
			logger.Warn(ctx, "recovery pass cut short, dispatcher full",
				zap.Int("admitted", admitted), zap.Int("found", len(ids)))
			return admitted, nil
		default:
			logger.Warn(ctx, "recover submission failed", zap.String("submission_id", id), zap.Error(err))
		}
	}
	if admitted > 0 || held > 0 {
		logger.Info(ctx, "recovery pass finished",
			zap.Int("admitted", admitted), zap.Int("held", held), zap.Int("found", len(ids)))
	}
	return admitted, nil
}

// RunRecovery repeats Recover every interval until ctx is done, so ids held
// by a crashed instance are picked up once its claims expire.
func (s *Service) RunRecovery(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		interval = defaultRecoveryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Recover(ctx, limit); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "recovery pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) validateSource(userID, problemID, language, code string) (model.Language, error) {
	if userID == "" {
		return "", appErr.New(appErr.Unauthorized).WithMessage("user is required")
	}
	if strings.TrimSpace(problemID) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	lang, ok := model.ParseLanguage(language)
	if !ok {
		return "", appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", language)
	}
	if strings.TrimSpace(code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if len(code) > s.maxCodeBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "code is %d bytes, limit %d", len(code), s.maxCodeBytes)
	}
	return lang, nil
}

func (s *Service) deferAdmission(ctx context.Context, submissionID string) error {
	payload, err := json.Marshal(model.JudgeMessage{SubmissionID: submissionID})
	if err != nil {
		return err
	}
	msg := mq.NewMessage(payload)
	msg.ID = submissionID
	if err := s.deferred.Publish(ctx, s.intakeTopic, msg); err != nil {
		logger.Error(ctx, "defer admission failed", zap.String("submission_id", submissionID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) cacheStatus(ctx context.Context, status model.JudgeStatus) {
	if s.statuses == nil {
		return
	}
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	if err := s.statuses.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "cache status failed", zap.String("submission_id", status.SubmissionID), zap.Error(err))
	}
}
