package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
)

type memSubmissions struct {
	mu   sync.Mutex
	subs map[string]model.Submission
}

func newMemSubmissions(subs ...model.Submission) *memSubmissions {
	m := &memSubmissions{subs: make(map[string]model.Submission)}
	for _, sub := range subs {
		m.subs[sub.ID] = sub
	}
	return m
}

func (m *memSubmissions) Create(_ context.Context, sub model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; ok {
		return appErr.New(appErr.RecordAlreadyExists)
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *memSubmissions) Load(_ context.Context, id string) (model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return model.Submission{}, appErr.New(appErr.SubmissionNotFound)
	}
	return sub, nil
}

func (m *memSubmissions) Save(_ context.Context, id string, update model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return appErr.New(appErr.SubmissionNotFound)
	}
	if sub.Status.IsTerminal() {
		return appErr.New(appErr.SubmissionAlreadyJudged)
	}
	m.subs[id] = sub.Apply(update)
	return nil
}

func (m *memSubmissions) ListUnfinished(_ context.Context, idleSince time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []model.Submission
	for _, sub := range m.subs {
		if !sub.Status.IsTerminal() && !sub.UpdatedAt.After(idleSince) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	ids := make([]string, 0, len(subs))
	for i, sub := range subs {
		if i >= limit {
			break
		}
		ids = append(ids, sub.ID)
	}
	return ids, nil
}

func (m *memSubmissions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *memSubmissions) status(id string) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id].Status
}

type staticProblems map[string]model.ProblemMeta

func (p staticProblems) GetMeta(_ context.Context, id string) (model.ProblemMeta, error) {
	meta, ok := p[id]
	if !ok {
		return model.ProblemMeta{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", id)
	}
	return meta, nil
}

type mapTests map[string]model.TestSet

func (m mapTests) LoadTestCases(_ context.Context, id string) (model.TestSet, error) {
	set, ok := m[id]
	if !ok {
		return model.TestSet{}, appErr.New(appErr.ProblemNotFound)
	}
	return set, nil
}

// fakeCompiler fails compilation for code containing "syntax error".
type fakeCompiler struct {
	mu       sync.Mutex
	released int
}

func (f *fakeCompiler) Compile(_ context.Context, id string, lang model.Language, code string) (runner.Artifact, runner.CompileOutcome, error) {
	if strings.Contains(code, "syntax error") {
		return runner.Artifact{}, runner.CompileOutcome{OK: false, Diagnostics: "main.cpp:1: error: expected ';'"}, nil
	}
	return runner.Artifact{SubmissionID: id, Language: lang}, runner.CompileOutcome{OK: true}, nil
}

func (f *fakeCompiler) Release(art runner.Artifact) {
	if art.SubmissionID == "" {
		return
	}
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

// echoExecutor prints its input back.
type echoExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *echoExecutor) Execute(_ context.Context, _ runner.Artifact, input string, _ runner.Limits) (runner.ExecOutcome, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return runner.ExecOutcome{Status: runner.ExecCompleted, Stdout: input, TimeMs: 5, MemoryKB: 1000}, nil
}

func (e *echoExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeAdmitter struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (a *fakeAdmitter) Submit(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.ids = append(a.ids, id)
	return nil
}

type memStatuses struct {
	mu       sync.Mutex
	statuses map[string]model.JudgeStatus
}

func newMemStatuses() *memStatuses {
	return &memStatuses{statuses: make(map[string]model.JudgeStatus)}
}

func (m *memStatuses) Get(_ context.Context, id string) (model.JudgeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[id]
	if !ok {
		return model.JudgeStatus{}, appErr.New(appErr.NotFound)
	}
	return status, nil
}

func (m *memStatuses) Save(_ context.Context, status model.JudgeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.SubmissionID] = status
	return nil
}

type fakeCooldown struct {
	mu     sync.Mutex
	active map[string]bool
}

func (c *fakeCooldown) Acquire(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = make(map[string]bool)
	}
	if c.active[userID] {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	c.active[userID] = true
	return nil
}

func (c *fakeCooldown) Release(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, userID)
	return nil
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeProducer struct {
	mu        sync.Mutex
	published []publishedMessage
}

func (f *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []model.JudgeStatus
}

func (f *fakeEventPublisher) PublishFinalStatus(_ context.Context, status model.JudgeStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, status)
	return nil
}

type fakeSolved struct {
	mu    sync.Mutex
	pairs []string
}

func (f *fakeSolved) MarkSolved(_ context.Context, userID, problemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, userID+"/"+problemID)
	return nil
}
