package service

import (
	"context"
	"time"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunRequest judges code against a problem's visible cases without storing it.
type RunRequest struct {
	UserID    string
	ProblemID string
	Language  string
	Code      string
}

// RunResult is the synchronous outcome of a run.
type RunResult struct {
	RunID          string                 `json:"runId"`
	Status         model.Status           `json:"status"`
	RunTimeMs      int64                  `json:"runTime"`
	MemoryKB       int64                  `json:"memory"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	TestCasePassed int                    `json:"testCasePassed"`
	TotalTestCases int                    `json:"totalTestCases"`
	Cases          []evaluator.CaseResult `json:"cases"`
	Summary        model.Summary          `json:"summary"`
}

// RunSamples compiles and evaluates code on the visible cases only. It shares
// sandbox capacity through the run slots and never touches the submission store.
func (s *Service) RunSamples(ctx context.Context, req RunRequest) (RunResult, error) {
	lang, err := s.validateSource(req.UserID, req.ProblemID, req.Language, req.Code)
	if err != nil {
		return RunResult{}, err
	}
	release, err := s.slots.Acquire(ctx, s.runSlotWait)
	if err != nil {
		return RunResult{}, err
	}
	defer release()

	runID := "run-" + uuid.NewString()
	ctx = logger.WithSubmission(ctx, runID)
	start := time.Now()

	set, err := s.tests.LoadTestCases(ctx, req.ProblemID)
	if err != nil {
		return RunResult{}, err
	}
	tests := model.VisibleOnly(set.Tests)
	result := RunResult{RunID: runID, TotalTestCases: len(tests), Cases: []evaluator.CaseResult{}}
	if len(tests) == 0 {
		result.apply(verdict.Fault("problem has no visible test cases", 0))
		return result, nil
	}

	art, outcome, err := s.compiler.Compile(ctx, runID, lang, req.Code)
	if err != nil {
		if appErr.Is(err, appErr.LanguageNotSupported) {
			return RunResult{}, err
		}
		result.apply(verdict.Fault("sandbox failure during compilation: "+err.Error(), len(tests)))
		return result, nil
	}
	defer s.compiler.Release(art)
	if !outcome.OK {
		result.apply(verdict.Aggregate(outcome, nil, len(tests)))
		result.Summary = model.NewSummary(tests, 0)
		return result, nil
	}

	limits := runner.Limits{TimeLimitMs: set.TimeLimitMs, MemoryLimitKB: set.MemoryLimitKB}
	res := s.eval.Evaluate(ctx, art, tests, limits)
	result.apply(verdict.Aggregate(outcome, &res, len(tests)))
	result.Cases = res.Cases
	result.Summary = model.NewSummary(tests, result.TestCasePassed)

	logger.Info(ctx, "sample run finished",
		zap.String("problem_id", req.ProblemID),
		zap.String("status", string(result.Status)),
		zap.Int("passed", result.TestCasePassed),
		zap.Int("total", result.TotalTestCases),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (r *RunResult) apply(update model.StatusUpdate) {
	r.Status = update.Status
	r.RunTimeMs = update.RunTimeMs
	r.MemoryKB = update.MemoryKB
	r.ErrorMessage = update.ErrorMessage
	r.TestCasePassed = update.TestCasePassed
	r.TotalTestCases = update.TotalTestCases
}
