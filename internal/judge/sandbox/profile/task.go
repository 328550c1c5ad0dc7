package profile

// TaskType identifies the sandbox task category and doubles as the
// isolation profile name handed to the engine.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)
