// Package engine runs one command under resource limits and reports how it ended.
package engine

import (
	"context"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside a limited sandbox.
//
// Run returns an error only when the process could not be started or observed.
// Limit breaches and crashes are reported through the RunResult outcome.
// When Run returns, the process and all of its descendants have been killed.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}
