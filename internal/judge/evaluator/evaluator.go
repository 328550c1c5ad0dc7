// Package evaluator runs an artifact against ordered test cases and stops at the first failure.
package evaluator

import (
	"context"
	"fmt"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Executor runs one input against a compiled artifact.
type Executor interface {
	Execute(ctx context.Context, art runner.Artifact, input string, limits runner.Limits) (runner.ExecOutcome, error)
}

// CaseResult is the record of one executed test case.
type CaseResult struct {
	Index    int          `json:"index"`
	Hidden   bool         `json:"hidden"`
	Status   model.Status `json:"status"`
	TimeMs   int64        `json:"timeMs"`
	MemoryKB int64        `json:"memoryKb"`
	Output   string       `json:"output,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Result is the candidate verdict of one evaluation.
//
// Status is Accepted when every case passed, otherwise the failure status of
// the first failing case. Passed counts the cases before that failure.
type Result struct {
	Status      model.Status
	Passed      int
	Total       int
	MaxTimeMs   int64
	MaxMemoryKB int64
	Message     string
	Cases       []CaseResult
}

// Executed returns how many cases actually ran.
func (r Result) Executed() int {
	return len(r.Cases)
}

// Evaluator drives an Executor over test cases.
type Evaluator struct {
	exec Executor
}

// New creates an evaluator.
func New(exec Executor) *Evaluator {
	return &Evaluator{exec: exec}
}

// Evaluate runs the cases in slice order. Per-case overrides take precedence
// over defaults. A runner error stops evaluation with status Error.
func (e *Evaluator) Evaluate(ctx context.Context, art runner.Artifact, tests []model.TestCase, defaults runner.Limits) Result {
	res := Result{
		Status: model.StatusAccepted,
		Total:  len(tests),
		Cases:  make([]CaseResult, 0, len(tests)),
	}
	for _, tc := range tests {
		limits := defaults
		if tc.TimeLimitMs > 0 {
			limits.TimeLimitMs = tc.TimeLimitMs
		}
		if tc.MemoryLimitKB > 0 {
			limits.MemoryLimitKB = tc.MemoryLimitKB
		}

		out, err := e.exec.Execute(ctx, art, tc.Input, limits)
		if err != nil {
			logger.Error(ctx, "execute test case failed",
				zap.String("submission_id", art.SubmissionID),
				zap.Int("case", tc.Index),
				zap.Error(err),
			)
			res.Cases = append(res.Cases, CaseResult{Index: tc.Index, Hidden: tc.Hidden, Status: model.StatusError, Message: err.Error()})
			res.Status = model.StatusError
			res.Message = fmt.Sprintf("sandbox failure on test case %d: %v", tc.Index+1, err)
			return res
		}

		if out.TimeMs > res.MaxTimeMs {
			res.MaxTimeMs = out.TimeMs
		}
		if out.MemoryKB > res.MaxMemoryKB {
			res.MaxMemoryKB = out.MemoryKB
		}
		status, message := judgeCase(out, tc.Expected)
		cr := CaseResult{
			Index:    tc.Index,
			Hidden:   tc.Hidden,
			Status:   status,
			TimeMs:   out.TimeMs,
			MemoryKB: out.MemoryKB,
			Message:  message,
		}
		if !tc.Hidden {
			cr.Output = out.Stdout
		}
		res.Cases = append(res.Cases, cr)
		if status != model.StatusAccepted {
			res.Status = status
			res.Message = fmt.Sprintf("test case %d: %s", tc.Index+1, message)
			return res
		}
		res.Passed++
	}
	return res
}

func judgeCase(out runner.ExecOutcome, expected string) (model.Status, string) {
	switch out.Status {
	case runner.ExecCompleted:
		if Match(out.Stdout, expected) {
			return model.StatusAccepted, ""
		}
		return model.StatusRejected, "wrong answer"
	case runner.ExecTimeExceeded:
		return model.StatusTimeLimitExceeded, "time limit exceeded"
	case runner.ExecMemoryExceeded:
		return model.StatusMemoryLimitExceeded, "memory limit exceeded"
	case runner.ExecRuntimeFailure:
		msg := out.Diagnostics
		if msg == "" {
			msg = "runtime error"
		}
		return model.StatusRuntimeError, msg
	default:
		return model.StatusError, "unknown execution status " + string(out.Status)
	}
}
