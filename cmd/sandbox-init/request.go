//go:build linux

package main

// initRequest mirrors the document the engine writes to our stdin.
type initRequest struct {
	RunSpec       runSpec          `json:"RunSpec"`
	Isolation     isolationProfile `json:"Isolation"`
	EnableSeccomp bool             `json:"EnableSeccomp"`
	EnableNs      bool             `json:"EnableNs"`
	StageDir      string           `json:"StageDir"`
}

type runSpec struct {
	SubmissionID string        `json:"SubmissionID"`
	RunID        string        `json:"RunID"`
	WorkDir      string        `json:"WorkDir"`
	Cmd          []string      `json:"Cmd"`
	Env          []string      `json:"Env"`
	StdinPath    string        `json:"StdinPath"`
	StdoutPath   string        `json:"StdoutPath"`
	StderrPath   string        `json:"StderrPath"`
	BindMounts   []mountSpec   `json:"BindMounts"`
	Limits       resourceLimit `json:"Limits"`
}

type mountSpec struct {
	Source   string `json:"Source"`
	Target   string `json:"Target"`
	ReadOnly bool   `json:"ReadOnly"`
}

// resourceLimit carries the limits the helper applies itself. Memory and
// process counts are enforced by the cgroup the engine attaches us to.
type resourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs"`
	MemoryKB   int64 `json:"MemoryKB"`
	StackMB    int64 `json:"StackMB"`
	OutputMB   int64 `json:"OutputMB"`
	PIDs       int64 `json:"PIDs"`
}

type isolationProfile struct {
	RootFS         string `json:"RootFS"`
	SeccompProfile string `json:"SeccompProfile"`
	DisableNetwork bool   `json:"DisableNetwork"`
}
