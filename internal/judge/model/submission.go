// Package model defines the judge domain records shared across the pipeline.
package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending             Status = "Pending"
	StatusCompiling           Status = "Compiling"
	StatusRunning             Status = "Running"
	StatusAccepted            Status = "Accepted"
	StatusRejected            Status = "Rejected"
	StatusError               Status = "Error"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusCompilationError    Status = "CompilationError"
)

// ActiveStatuses lists every non-terminal status.
var ActiveStatuses = []Status{StatusPending, StatusCompiling, StatusRunning}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusError, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompilationError:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompiling, StatusRunning:
		return true
	}
	return s.IsTerminal()
}

// Language identifies a supported submission language.
type Language string

const (
	LanguageC          Language = "c"
	LanguageCPP        Language = "c++"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

// SupportedLanguages lists languages in display order.
var SupportedLanguages = []Language{LanguageC, LanguageCPP, LanguageJava, LanguageJavaScript, LanguagePython}

// ParseLanguage normalizes user input into a Language.
func ParseLanguage(raw string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "c":
		return LanguageC, true
	case "c++", "cpp", "cxx":
		return LanguageCPP, true
	case "java":
		return LanguageJava, true
	case "javascript", "js", "node":
		return LanguageJavaScript, true
	case "python", "python3", "py":
		return LanguagePython, true
	}
	return "", false
}

// Mode selects which test cases a judging run uses.
type Mode string

const (
	// ModeSubmit judges visible and hidden test cases and persists the verdict.
	ModeSubmit Mode = "submit"
	// ModeRun judges visible test cases only and is never persisted.
	ModeRun Mode = "run"
)

// Submission is one user attempt at a problem.
type Submission struct {
	ID             string    `json:"submissionId"`
	UserID         string    `json:"userId"`
	ProblemID      string    `json:"problemId"`
	Language       Language  `json:"language"`
	Code           string    `json:"code,omitempty"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	RunTimeMs      int64     `json:"runTime"`
	MemoryKB       int64     `json:"memory"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	TestCasePassed int       `json:"testCasePassed"`
	TotalTestCases int       `json:"totalTestCases"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StatusUpdate is the partial update the pipeline writes back to storage.
type StatusUpdate struct {
	Status         Status `json:"status"`
	RunTimeMs      int64  `json:"runTime"`
	MemoryKB       int64  `json:"memory"`
	ErrorMessage   string `json:"errorMessage"`
	TestCasePassed int    `json:"testCasePassed"`
	TotalTestCases int    `json:"totalTestCases"`
}

// Apply returns a copy of s with the update applied.
func (s Submission) Apply(update StatusUpdate) Submission {
	s.Status = update.Status
	s.RunTimeMs = update.RunTimeMs
	s.MemoryKB = update.MemoryKB
	s.ErrorMessage = update.ErrorMessage
	s.TestCasePassed = update.TestCasePassed
	s.TotalTestCases = update.TotalTestCases
	return s
}

// Update returns the status fields of s as a StatusUpdate.
func (s Submission) Update() StatusUpdate {
	return StatusUpdate{
		Status:         s.Status,
		RunTimeMs:      s.RunTimeMs,
		MemoryKB:       s.MemoryKB,
		ErrorMessage:   s.ErrorMessage,
		TestCasePassed: s.TestCasePassed,
		TotalTestCases: s.TotalTestCases,
	}
}
