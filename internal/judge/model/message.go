package model

// JudgeMessage is the Kafka payload asking for a stored submission to be judged.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
}

// StatusEventType identifies a status event kind.
type StatusEventType string

// StatusEventFinal is emitted once per submission after its terminal write.
const StatusEventFinal StatusEventType = "final"

// StatusEvent is the payload published after a submission reaches a terminal status.
type StatusEvent struct {
	Type      StatusEventType `json:"type"`
	Status    JudgeStatus     `json:"status"`
	CreatedAt int64           `json:"created_at"`
}

// JudgeStatus is the status view served to pollers and published in events.
type JudgeStatus struct {
	SubmissionID   string   `json:"submissionId"`
	UserID         string   `json:"userId,omitempty"`
	ProblemID      string   `json:"problemId,omitempty"`
	Language       Language `json:"language,omitempty"`
	Status         Status   `json:"status"`
	RunTimeMs      int64    `json:"runTime"`
	MemoryKB       int64    `json:"memory"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
	TestCasePassed int      `json:"testCasePassed"`
	TotalTestCases int      `json:"totalTestCases"`
	Summary        *Summary `json:"summary,omitempty"`
	UpdatedAt      int64    `json:"updatedAt"`
}

// Summary reports pass counts split by visibility.
type Summary struct {
	VisiblePassed int     `json:"visiblePassed"`
	VisibleTotal  int     `json:"visibleTotal"`
	HiddenPassed  int     `json:"hiddenPassed"`
	HiddenTotal   int     `json:"hiddenTotal"`
	SuccessRate   float64 `json:"successRate"`
}

// NewSummary derives visibility counts from the ordered cases and the passed prefix length.
func NewSummary(tests []TestCase, passed int) Summary {
	var s Summary
	for i, tc := range tests {
		ok := i < passed
		if tc.Hidden {
			s.HiddenTotal++
			if ok {
				s.HiddenPassed++
			}
			continue
		}
		s.VisibleTotal++
		if ok {
			s.VisiblePassed++
		}
	}
	if total := len(tests); total > 0 {
		s.SuccessRate = float64(passed) / float64(total)
	}
	return s
}

// StatusFromSubmission builds the status view of a submission.
func StatusFromSubmission(sub Submission) JudgeStatus {
	return JudgeStatus{
		SubmissionID:   sub.ID,
		UserID:         sub.UserID,
		ProblemID:      sub.ProblemID,
		Language:       sub.Language,
		Status:         sub.Status,
		RunTimeMs:      sub.RunTimeMs,
		MemoryKB:       sub.MemoryKB,
		ErrorMessage:   sub.ErrorMessage,
		TestCasePassed: sub.TestCasePassed,
		TotalTestCases: sub.TotalTestCases,
		UpdatedAt:      sub.UpdatedAt.Unix(),
	}
}
