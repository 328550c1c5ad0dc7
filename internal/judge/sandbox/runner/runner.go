// Package runner compiles and executes user code through the sandbox engine.
package runner

import (
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/profile"
)

// Artifact is the output of Compile: a build directory holding the source and,
// for compiled languages, the binary.
type Artifact struct {
	SubmissionID string
	Language     model.Language
	rootDir      string
	buildDir     string
	lang         profile.LanguageSpec
}

// CompileOutcome reports a compilation. Diagnostics are set when OK is false.
type CompileOutcome struct {
	OK          bool
	Diagnostics string
	TimeMs      int64
	MemoryKB    int64
}

// Limits are the time and memory ceilings of one execution before language
// multipliers. Zero inherits the language default, then the global default.
type Limits struct {
	TimeLimitMs   int64
	MemoryLimitKB int64
}

// ExecStatus classifies one execution.
type ExecStatus string

const (
	ExecCompleted      ExecStatus = "Completed"
	ExecTimeExceeded   ExecStatus = "TimeExceeded"
	ExecMemoryExceeded ExecStatus = "MemoryExceeded"
	ExecRuntimeFailure ExecStatus = "RuntimeFailure"
)

// ExecOutcome reports one execution. Stdout is only trusted for ExecCompleted.
type ExecOutcome struct {
	Status      ExecStatus
	Stdout      string
	TimeMs      int64
	MemoryKB    int64
	ExitCode    int
	Signal      int
	Diagnostics string
}
