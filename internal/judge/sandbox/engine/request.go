package engine

import "codejudge/internal/judge/sandbox/spec"

// initRequest is the JSON document the sandbox-init helper reads from stdin.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
	StageDir      string
}
