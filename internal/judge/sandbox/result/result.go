// Package result defines raw sandbox execution results.
package result

// Outcome classifies how a limited process ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "Completed"
	OutcomeTimeExceeded   Outcome = "TimeExceeded"
	OutcomeMemoryExceeded Outcome = "MemoryExceeded"
	OutcomeSignaled       Outcome = "Signaled"
)

// RunResult captures one sandbox execution.
// ExitCode is meaningful for OutcomeCompleted, Signal for OutcomeSignaled.
type RunResult struct {
	Outcome    Outcome
	ExitCode   int
	Signal     int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
	TimedOut   bool
}

// Breached reports whether a resource ceiling ended the run.
func (r RunResult) Breached() bool {
	return r.Outcome == OutcomeTimeExceeded || r.Outcome == OutcomeMemoryExceeded
}
