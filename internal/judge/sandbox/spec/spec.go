// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox. Zero means unlimited.
type ResourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs" yaml:"cpuTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs" yaml:"wallTimeMs"`
	MemoryKB   int64 `json:"MemoryKB" yaml:"memoryKb"`
	StackMB    int64 `json:"StackMB" yaml:"stackMB"`
	OutputMB   int64 `json:"OutputMB" yaml:"outputMB"`
	PIDs       int64 `json:"PIDs" yaml:"pids"`
}

// Merge returns base with every positive field of override applied.
func (base ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryKB > 0 {
		base.MemoryKB = override.MemoryKB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		base.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string `json:"Source"`
	Target   string `json:"Target"`
	ReadOnly bool   `json:"ReadOnly"`
}

// RunSpec is the unified execution specification for one process run.
type RunSpec struct {
	SubmissionID string        `json:"SubmissionID"`
	RunID        string        `json:"RunID"`
	WorkDir      string        `json:"WorkDir"`
	Cmd          []string      `json:"Cmd"`
	Env          []string      `json:"Env"`
	StdinPath    string        `json:"StdinPath"`
	StdoutPath   string        `json:"StdoutPath"`
	StderrPath   string        `json:"StderrPath"`
	BindMounts   []MountSpec   `json:"BindMounts"`
	Profile      string        `json:"Profile"`
	Limits       ResourceLimit `json:"Limits"`
}
