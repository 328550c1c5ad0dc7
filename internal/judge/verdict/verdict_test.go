package verdict

import (
	"strings"
	"testing"
	"unicode/utf8"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
)

func TestCompilationErrorShortCircuits(t *testing.T) {
	t.Parallel()

	eval := &evaluator.Result{Status: model.StatusAccepted, Passed: 3, Total: 3, MaxTimeMs: 9}
	got := Aggregate(runner.CompileOutcome{OK: false, Diagnostics: "main.cpp:1: error"}, eval, 3)
	if got.Status != model.StatusCompilationError || got.TestCasePassed != 0 || got.RunTimeMs != 0 {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.ErrorMessage != "main.cpp:1: error" || got.TotalTestCases != 3 {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestAcceptedHasNoMessage(t *testing.T) {
	t.Parallel()

	eval := &evaluator.Result{
		Status: model.StatusAccepted, Passed: 2, Total: 2, MaxTimeMs: 15, MaxMemoryKB: 2048,
		Cases: make([]evaluator.CaseResult, 2),
	}
	got := Aggregate(runner.CompileOutcome{OK: true}, eval, 2)
	want := model.StatusUpdate{Status: model.StatusAccepted, RunTimeMs: 15, MemoryKB: 2048, TestCasePassed: 2, TotalTestCases: 2}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFailureCopiesCandidate(t *testing.T) {
	t.Parallel()

	eval := &evaluator.Result{
		Status: model.StatusTimeLimitExceeded, Passed: 1, Total: 4, MaxTimeMs: 2000, MaxMemoryKB: 10,
		Message: "test case 2: time limit exceeded", Cases: make([]evaluator.CaseResult, 2),
	}
	got := Aggregate(runner.CompileOutcome{OK: true}, eval, 4)
	if got.Status != model.StatusTimeLimitExceeded || got.TestCasePassed != 1 || got.TotalTestCases != 4 {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.RunTimeMs != 2000 || got.ErrorMessage == "" {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestNothingExecutedReportsZeroPeaks(t *testing.T) {
	t.Parallel()

	eval := &evaluator.Result{Status: model.StatusError, Total: 2, MaxTimeMs: 5, Message: "sandbox failure"}
	got := Aggregate(runner.CompileOutcome{OK: true}, eval, 2)
	if got.RunTimeMs != 0 || got.MemoryKB != 0 {
		t.Fatalf("peaks must be zero when nothing executed: %+v", got)
	}
}

func TestTruncateKeepsUTF8(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("错", 3000)
	got := Truncate(long, MaxMessageBytes)
	if len(got) > MaxMessageBytes || !utf8.ValidString(got) {
		t.Fatalf("bad truncation: len=%d valid=%v", len(got), utf8.ValidString(got))
	}
	if Truncate("short", MaxMessageBytes) != "short" {
		t.Fatalf("short strings must be kept")
	}
}

func TestTruncateNeverExceedsMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "zero", in: "abcdef", max: 0, want: ""},
		{name: "negative", in: "abcdef", max: -3, want: ""},
		{name: "smaller than marker", in: strings.Repeat("x", 40), max: 5, want: "xxxxx"},
		{name: "marker exactly", in: strings.Repeat("x", 40), max: 14, want: "...(truncated)"},
		{name: "multibyte under marker", in: "错错错错", max: 4, want: "错"},
		{name: "room for marker", in: strings.Repeat("x", 40), max: 16, want: "xx...(truncated)"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if tt.max >= 0 && len(got) > tt.max {
				t.Fatalf("expected at most %d bytes, got %d", tt.max, len(got))
			}
		})
	}
}
