// Package orchestrator drives one submission through compile, evaluation and
// the final write.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// SubmissionStore loads submissions and applies atomic partial updates.
// Save must refuse to modify a terminal submission with SubmissionAlreadyJudged.
type SubmissionStore interface {
	Load(ctx context.Context, submissionID string) (model.Submission, error)
	Save(ctx context.Context, submissionID string, update model.StatusUpdate) error
}

// TestCaseSource loads the ordered test cases of a problem.
// A missing problem is reported with ProblemNotFound.
type TestCaseSource interface {
	LoadTestCases(ctx context.Context, problemID string) (model.TestSet, error)
}

// Compiler produces and releases artifacts.
type Compiler interface {
	Compile(ctx context.Context, submissionID string, language model.Language, code string) (runner.Artifact, runner.CompileOutcome, error)
	Release(art runner.Artifact)
}

// Evaluator runs an artifact against test cases.
type Evaluator interface {
	Evaluate(ctx context.Context, art runner.Artifact, tests []model.TestCase, defaults runner.Limits) evaluator.Result
}

// Final describes a submission that reached a terminal status.
type Final struct {
	Submission model.Submission
	Summary    *model.Summary
	Elapsed    time.Duration
}

// Listener is told about every persisted status and every final verdict.
// Listener failures never change the verdict.
type Listener interface {
	OnTransition(ctx context.Context, sub model.Submission)
	OnFinal(ctx context.Context, final Final)
}

// Config controls persistence retries.
type Config struct {
	PersistAttempts   int
	PersistBackoff    time.Duration
	PersistMaxBackoff time.Duration
}

const (
	defaultPersistAttempts   = 3
	defaultPersistBackoff    = 100 * time.Millisecond
	defaultPersistMaxBackoff = 2 * time.Second
)

// Orchestrator owns the submission state machine.
type Orchestrator struct {
	store     SubmissionStore
	tests     TestCaseSource
	compiler  Compiler
	eval      Evaluator
	listeners []Listener
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration)
}

// New creates an orchestrator.
func New(store SubmissionStore, tests TestCaseSource, compiler Compiler, eval Evaluator, cfg Config, listeners ...Listener) (*Orchestrator, error) {
	if store == nil {
		return nil, appErr.ValidationError("submission_store", "required")
	}
	if tests == nil {
		return nil, appErr.ValidationError("test_case_source", "required")
	}
	if compiler == nil {
		return nil, appErr.ValidationError("compiler", "required")
	}
	if eval == nil {
		return nil, appErr.ValidationError("evaluator", "required")
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = defaultPersistAttempts
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = defaultPersistBackoff
	}
	if cfg.PersistMaxBackoff <= 0 {
		cfg.PersistMaxBackoff = defaultPersistMaxBackoff
	}
	return &Orchestrator{
		store:     store,
		tests:     tests,
		compiler:  compiler,
		eval:      eval,
		listeners: listeners,
		cfg:       cfg,
		sleep:     sleepCtx,
	}, nil
}

// judgeRun is the mutable state of one Judge call.
type judgeRun struct {
	sub      model.Submission
	tests    []model.TestCase
	limits   runner.Limits
	compile  runner.CompileOutcome
	artifact runner.Artifact
	result   *evaluator.Result
	start    time.Time
}

// Judge runs a stored submission to a terminal status. The caller's
// cancellation is ignored once the submission is admitted.
func (o *Orchestrator) Judge(ctx context.Context, submissionID string) error {
	ctx = logger.WithSubmission(context.WithoutCancel(ctx), submissionID)
	sub, err := o.store.Load(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		return appErr.Newf(appErr.SubmissionAlreadyJudged, "submission %s is already %s", submissionID, sub.Status)
	}

	run := &judgeRun{sub: sub, start: time.Now()}
	defer func() {
		o.compiler.Release(run.artifact)
	}()
	logger.Info(ctx, "judging started",
		zap.String("submission_id", submissionID),
		zap.String("status", string(sub.Status)),
		zap.String("language", string(sub.Language)),
	)

	ev := Event{Kind: EventAdmit}
	for {
		step, err := Transition(run.sub.Status, ev)
		if err != nil {
			logger.Error(ctx, "state transition rejected", zap.Error(err))
			return err
		}
		next, err := o.perform(ctx, run, step)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		ev = *next
	}
}

// perform executes the effects of one step and returns the next event, or nil
// once the submission is terminal.
func (o *Orchestrator) perform(ctx context.Context, run *judgeRun, step Step) (*Event, error) {
	var next *Event
	for _, eff := range step.Effects {
		switch eff.Kind {
		case EffectPersist:
			if err := o.persist(ctx, run.sub.ID, eff.Update); err != nil {
				if appErr.Is(err, appErr.SubmissionAlreadyJudged) || step.Next == model.StatusError {
					logger.Error(ctx, "persist status failed, giving up",
						zap.String("status", string(eff.Update.Status)),
						zap.Error(err),
					)
					return nil, err
				}
				logger.Error(ctx, "persist status failed, falling back to error",
					zap.String("status", string(eff.Update.Status)),
					zap.Error(err),
				)
				return &Event{
					Kind:    EventFault,
					Message: fmt.Sprintf("persist %s failed: %v", eff.Update.Status, err),
					Total:   len(run.tests),
				}, nil
			}
			run.sub = run.sub.Apply(eff.Update)
			run.sub.UpdatedAt = time.Now()
			for _, l := range o.listeners {
				l.OnTransition(ctx, run.sub)
			}
		case EffectCompile:
			next = o.compile(ctx, run)
		case EffectEvaluate:
			next = o.evaluate(ctx, run)
		case EffectNotify:
			o.notifyFinal(ctx, run)
		}
	}
	return next, nil
}

func (o *Orchestrator) compile(ctx context.Context, run *judgeRun) *Event {
	set, err := o.tests.LoadTestCases(ctx, run.sub.ProblemID)
	if err != nil {
		if appErr.Is(err, appErr.ProblemNotFound) {
			return fault("problem not found: "+run.sub.ProblemID, 0)
		}
		return fault("load test cases failed: "+err.Error(), 0)
	}
	run.tests = model.SubmitOrder(set.Tests)
	run.limits = runner.Limits{TimeLimitMs: set.TimeLimitMs, MemoryLimitKB: set.MemoryLimitKB}
	total := len(run.tests)
	if total == 0 {
		return fault("problem has no test cases", 0)
	}

	art, outcome, err := o.compiler.Compile(ctx, run.sub.ID, run.sub.Language, run.sub.Code)
	if err != nil {
		if appErr.Is(err, appErr.LanguageNotSupported) {
			return fault("language not supported: "+string(run.sub.Language), total)
		}
		return fault("sandbox failure during compilation: "+err.Error(), total)
	}
	run.compile = outcome
	if !outcome.OK {
		return &Event{Kind: EventCompileFailed, Verdict: verdict.Aggregate(outcome, nil, total)}
	}
	run.artifact = art
	logger.Info(ctx, "compilation finished",
		zap.Int64("time_ms", outcome.TimeMs),
		zap.Int("test_cases", total),
	)
	return &Event{Kind: EventCompiled, Total: total}
}

func (o *Orchestrator) evaluate(ctx context.Context, run *judgeRun) *Event {
	res := o.eval.Evaluate(ctx, run.artifact, run.tests, run.limits)
	o.compiler.Release(run.artifact)
	run.artifact = runner.Artifact{}
	run.result = &res
	return &Event{Kind: EventEvaluated, Verdict: verdict.Aggregate(run.compile, &res, len(run.tests))}
}

func (o *Orchestrator) notifyFinal(ctx context.Context, run *judgeRun) {
	final := Final{Submission: run.sub, Elapsed: time.Since(run.start)}
	if len(run.tests) > 0 {
		summary := model.NewSummary(run.tests, run.sub.TestCasePassed)
		final.Summary = &summary
	}
	logger.Info(ctx, "judging finished",
		zap.String("status", string(run.sub.Status)),
		zap.Int("passed", run.sub.TestCasePassed),
		zap.Int("total", run.sub.TotalTestCases),
		zap.Int64("run_time_ms", run.sub.RunTimeMs),
		zap.Int64("memory_kb", run.sub.MemoryKB),
		zap.Duration("elapsed", final.Elapsed),
	)
	for _, l := range o.listeners {
		l.OnFinal(ctx, final)
	}
}

func fault(message string, total int) *Event {
	return &Event{Kind: EventFault, Message: verdict.Truncate(message, verdict.MaxMessageBytes), Total: total}
}
