// Package verdict folds compile and evaluation results into the persisted verdict.
package verdict

import (
	"unicode/utf8"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
)

// MaxMessageBytes bounds ErrorMessage.
const MaxMessageBytes = 4096

// Aggregate builds the final status update. eval is ignored when compilation
// failed and may be nil in that case.
func Aggregate(compile runner.CompileOutcome, eval *evaluator.Result, total int) model.StatusUpdate {
	if !compile.OK {
		msg := compile.Diagnostics
		if msg == "" {
			msg = "compilation failed"
		}
		return model.StatusUpdate{
			Status:         model.StatusCompilationError,
			ErrorMessage:   Truncate(msg, MaxMessageBytes),
			TotalTestCases: total,
		}
	}
	if eval == nil {
		return Fault("evaluation result missing", total)
	}

	update := model.StatusUpdate{
		Status:         eval.Status,
		TestCasePassed: eval.Passed,
		TotalTestCases: eval.Total,
	}
	if eval.Executed() > 0 {
		update.RunTimeMs = eval.MaxTimeMs
		update.MemoryKB = eval.MaxMemoryKB
	}
	if update.Status != model.StatusAccepted {
		msg := eval.Message
		if msg == "" {
			msg = string(update.Status)
		}
		update.ErrorMessage = Truncate(msg, MaxMessageBytes)
	}
	if update.TestCasePassed > update.TotalTestCases {
		update.TestCasePassed = update.TotalTestCases
	}
	return update
}

// Fault builds the Error verdict for a pipeline fault.
func Fault(message string, total int) model.StatusUpdate {
	if message == "" {
		message = "internal judge error"
	}
	return model.StatusUpdate{
		Status:         model.StatusError,
		ErrorMessage:   Truncate(message, MaxMessageBytes),
		TotalTestCases: total,
	}
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
// The marker suffix is dropped when max cannot hold it.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	const suffix = "...(truncated)"
	cut, tail := max-len(suffix), suffix
	if cut < 0 {
		cut, tail = max, ""
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + tail
}
