package engine

import (
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// Linux signal numbers used by classification.
const (
	sigKill = 9
	sigXCPU = 24
)

// exitInfo is what the engine observed about a finished process.
type exitInfo struct {
	ExitCode  int
	Signal    int
	Signaled  bool
	TimedOut  bool
	OomKilled bool
	CPUTimeMs int64
	MemoryKB  int64
}

// classify maps an observation onto an outcome. Time breaches win over memory
// breaches, and both win over the raw signal.
func classify(info exitInfo, limits spec.ResourceLimit) result.Outcome {
	switch {
	case info.TimedOut:
		return result.OutcomeTimeExceeded
	case limits.CPUTimeMs > 0 && info.CPUTimeMs > limits.CPUTimeMs:
		return result.OutcomeTimeExceeded
	case info.Signaled && info.Signal == sigXCPU:
		return result.OutcomeTimeExceeded
	case info.OomKilled:
		return result.OutcomeMemoryExceeded
	case limits.MemoryKB > 0 && info.MemoryKB > limits.MemoryKB:
		return result.OutcomeMemoryExceeded
	case info.Signaled:
		return result.OutcomeSignaled
	default:
		return result.OutcomeCompleted
	}
}

func buildResult(info exitInfo, limits spec.ResourceLimit) result.RunResult {
	res := result.RunResult{
		Outcome:   classify(info, limits),
		ExitCode:  info.ExitCode,
		TimeMs:    info.CPUTimeMs,
		MemoryKB:  info.MemoryKB,
		OomKilled: info.OomKilled,
		TimedOut:  info.TimedOut,
	}
	if info.Signaled {
		res.Signal = info.Signal
		res.ExitCode = -1
	}
	if res.Outcome == result.OutcomeTimeExceeded && limits.CPUTimeMs > 0 && res.TimeMs < limits.CPUTimeMs {
		// Wall-clock kills of idle processes still report the full budget.
		res.TimeMs = limits.CPUTimeMs
	}
	return res
}
