package model

// ProblemMeta is the judge-facing problem record.
type ProblemMeta struct {
	ProblemID     string `json:"problemId"`
	Version       int32  `json:"version"`
	TimeLimitMs   int64  `json:"timeLimitMs"`
	MemoryLimitKB int64  `json:"memoryLimitKb"`
	DataPackKey   string `json:"dataPackKey"`
	DataPackHash  string `json:"dataPackHash"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// TestCase is one ordered (input, expected output) pair of a problem.
type TestCase struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Hidden   bool   `json:"hidden"`
	// Zero means inherit the problem limits.
	TimeLimitMs   int64 `json:"timeLimitMs,omitempty"`
	MemoryLimitKB int64 `json:"memoryLimitKb,omitempty"`
}

// VisibleOnly keeps the non-hidden cases, re-indexed in their original order.
func VisibleOnly(tests []TestCase) []TestCase {
	out := make([]TestCase, 0, len(tests))
	for _, tc := range tests {
		if tc.Hidden {
			continue
		}
		tc.Index = len(out)
		out = append(out, tc)
	}
	return out
}

// SubmitOrder places visible cases before hidden ones, keeping relative order, and re-indexes.
func SubmitOrder(tests []TestCase) []TestCase {
	out := make([]TestCase, 0, len(tests))
	for _, hidden := range []bool{false, true} {
		for _, tc := range tests {
			if tc.Hidden != hidden {
				continue
			}
			tc.Index = len(out)
			out = append(out, tc)
		}
	}
	return out
}

// TestSet is the ordered test cases of a problem with its default limits.
type TestSet struct {
	ProblemID     string
	Version       int32
	TimeLimitMs   int64
	MemoryLimitKB int64
	Tests         []TestCase
}
