package model

import "testing"

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range ActiveStatuses {
		if s.IsTerminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	terminal := []Status{
		StatusAccepted, StatusRejected, StatusError, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompilationError,
	}
	for _, s := range terminal {
		if !s.IsTerminal() || !s.Valid() {
			t.Fatalf("%s must be a valid terminal status", s)
		}
	}
	if Status("Wrong Answer").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestParseLanguage(t *testing.T) {
	t.Parallel()

	cases := map[string]Language{
		"c":          LanguageC,
		"C++":        LanguageCPP,
		"cpp":        LanguageCPP,
		" java ":     LanguageJava,
		"javascript": LanguageJavaScript,
		"python":     LanguagePython,
	}
	for raw, want := range cases {
		got, ok := ParseLanguage(raw)
		if !ok || got != want {
			t.Fatalf("ParseLanguage(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseLanguage("rust"); ok {
		t.Fatalf("rust must not be supported")
	}
}

func TestSubmitOrderPutsVisibleFirst(t *testing.T) {
	t.Parallel()

	tests := []TestCase{
		{Input: "h1", Hidden: true},
		{Input: "v1"},
		{Input: "h2", Hidden: true},
		{Input: "v2"},
	}
	ordered := SubmitOrder(tests)
	want := []string{"v1", "v2", "h1", "h2"}
	for i, tc := range ordered {
		if tc.Input != want[i] || tc.Index != i {
			t.Fatalf("position %d: got %q index %d", i, tc.Input, tc.Index)
		}
	}
	visible := VisibleOnly(tests)
	if len(visible) != 2 || visible[0].Input != "v1" || visible[1].Index != 1 {
		t.Fatalf("unexpected visible cases: %+v", visible)
	}
}

func TestNewSummary(t *testing.T) {
	t.Parallel()

	tests := SubmitOrder([]TestCase{{}, {}, {Hidden: true}, {Hidden: true}})
	s := NewSummary(tests, 3)
	if s.VisiblePassed != 2 || s.VisibleTotal != 2 || s.HiddenPassed != 1 || s.HiddenTotal != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.SuccessRate != 0.75 {
		t.Fatalf("expected success rate 0.75, got %v", s.SuccessRate)
	}
	if NewSummary(nil, 0).SuccessRate != 0 {
		t.Fatalf("empty summary must have zero rate")
	}
}
