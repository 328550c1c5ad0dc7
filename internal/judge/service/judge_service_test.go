package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	appErr "codejudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sampleProblem() (staticProblems, mapTests) {
	problems := staticProblems{"p1": {ProblemID: "p1", Version: 1, TimeLimitMs: 1000, MemoryLimitKB: 65536}}
	tests := mapTests{"p1": {
		ProblemID:     "p1",
		TimeLimitMs:   1000,
		MemoryLimitKB: 65536,
		Tests: []model.TestCase{
			{Index: 0, Input: "hello\n", Expected: "hello\n"},
			{Index: 1, Input: "secret\n", Expected: "secret\n", Hidden: true},
			{Index: 2, Input: "world\n", Expected: "world\n"},
		},
	}}
	return problems, tests
}

type serviceFixture struct {
	svc         *Service
	submissions *memSubmissions
	admitter    *fakeAdmitter
	statuses    *memStatuses
	exec        *echoExecutor
	deferred    *fakeProducer
}

func newServiceFixture(t *testing.T, mutate func(*Config)) *serviceFixture {
	t.Helper()
	problems, tests := sampleProblem()
	f := &serviceFixture{
		submissions: newMemSubmissions(),
		admitter:    &fakeAdmitter{},
		statuses:    newMemStatuses(),
		exec:        &echoExecutor{},
		deferred:    &fakeProducer{},
	}
	cfg := Config{
		Submissions: f.submissions,
		Problems:    problems,
		Tests:       tests,
		Compiler:    &fakeCompiler{},
		Evaluator:   evaluator.New(f.exec),
		Dispatcher:  f.admitter,
		Statuses:    f.statuses,
		Cooldown:    &fakeCooldown{},
		Deferred:    f.deferred,
		IntakeTopic: "judge.submissions",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestCreateSubmissionAdmitsPending(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)

	sub, err := f.svc.CreateSubmission(context.Background(), CreateRequest{
		UserID: "u1", ProblemID: "p1", Language: "py", Code: "print(input())",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != model.StatusPending || sub.Language != model.LanguagePython || sub.Mode != model.ModeSubmit {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if len(f.admitter.ids) != 1 || f.admitter.ids[0] != sub.ID {
		t.Fatalf("expected %s admitted, got %v", sub.ID, f.admitter.ids)
	}
	if status, err := f.statuses.Get(context.Background(), sub.ID); err != nil || status.Status != model.StatusPending {
		t.Fatalf("expected pending status cached, got %+v %v", status, err)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		req  CreateRequest
		want appErr.ErrorCode
	}{
		{name: "anonymous", req: CreateRequest{ProblemID: "p1", Language: "c", Code: "x"}, want: appErr.Unauthorized},
		{name: "language", req: CreateRequest{UserID: "u1", ProblemID: "p1", Language: "cobol", Code: "x"}, want: appErr.LanguageNotSupported},
		{name: "empty-code", req: CreateRequest{UserID: "u1", ProblemID: "p1", Language: "c", Code: "  "}, want: appErr.ValidationFailed},
		{name: "too-large", req: CreateRequest{UserID: "u1", ProblemID: "p1", Language: "c", Code: strings.Repeat("x", 65)}, want: appErr.CodeTooLarge},
		{name: "unknown-problem", req: CreateRequest{UserID: "u1", ProblemID: "nope", Language: "c", Code: "x"}, want: appErr.ProblemNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newServiceFixture(t, func(cfg *Config) { cfg.MaxCodeBytes = 64 })
			_, err := f.svc.CreateSubmission(context.Background(), tt.req)
			if !appErr.Is(err, tt.want) {
				t.Fatalf("expected %d, got %v", tt.want, err)
			}
			if f.submissions.count() != 0 {
				t.Fatalf("expected no submission stored")
			}
		})
	}
}

func TestCreateSubmissionCooldown(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)
	req := CreateRequest{UserID: "u1", ProblemID: "p1", Language: "c", Code: "int main(){}"}

	if _, err := f.svc.CreateSubmission(context.Background(), req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.CreateSubmission(context.Background(), req); !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}
	if f.submissions.count() != 1 {
		t.Fatalf("expected one submission, got %d", f.submissions.count())
	}
}

func TestCreateSubmissionDefersWhenDispatcherFull(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)
	f.admitter.err = appErr.New(appErr.JudgeQueueFull)

	sub, err := f.svc.CreateSubmission(context.Background(), CreateRequest{
		UserID: "u1", ProblemID: "p1", Language: "c", Code: "int main(){}",
	})
	if err != nil {
		t.Fatalf("expected deferred admission, got %v", err)
	}
	if len(f.deferred.published) != 1 || f.deferred.published[0].topic != "judge.submissions" {
		t.Fatalf("expected one intake message, got %+v", f.deferred.published)
	}
	var msg model.JudgeMessage
	if err := json.Unmarshal(f.deferred.published[0].msg.Body, &msg); err != nil || msg.SubmissionID != sub.ID {
		t.Fatalf("expected intake message for %s, got %+v %v", sub.ID, msg, err)
	}
}

func TestSubmitForJudgingChecksStoredState(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "done", Status: model.StatusAccepted})
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "todo", Status: model.StatusPending})
	ctx := context.Background()

	if err := f.svc.SubmitForJudging(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
	if err := f.svc.SubmitForJudging(ctx, "done"); !appErr.Is(err, appErr.SubmissionAlreadyJudged) {
		t.Fatalf("expected SubmissionAlreadyJudged, got %v", err)
	}
	if err := f.svc.SubmitForJudging(ctx, " todo "); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.admitter.ids) != 1 || f.admitter.ids[0] != "todo" {
		t.Fatalf("expected todo admitted, got %v", f.admitter.ids)
	}
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "s1", Status: model.StatusRejected, TestCasePassed: 1, TotalTestCases: 3})

	status, err := f.svc.GetStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != model.StatusRejected || status.TestCasePassed != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := f.statuses.Get(context.Background(), "s1"); err != nil {
		t.Fatalf("expected status cached after fallback, got %v", err)
	}
}

func TestRecoverAdmitsOldestFirst(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)
	base := time.Unix(1700000000, 0)
	for i, id := range []string{"b", "a", "c"} {
		_ = f.submissions.Create(context.Background(), model.Submission{ID: id, Status: model.StatusRunning, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "done", Status: model.StatusAccepted, CreatedAt: base})

	admitted, err := f.svc.Recover(context.Background(), 10)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if admitted != 3 || strings.Join(f.admitter.ids, ",") != "b,a,c" {
		t.Fatalf("expected b,a,c admitted, got %d %v", admitted, f.admitter.ids)
	}

	f.admitter.err = appErr.New(appErr.JudgeQueueFull)
	if admitted, err := f.svc.Recover(context.Background(), 10); err != nil || admitted != 0 {
		t.Fatalf("expected recovery to stop on full queue, got %d %v", admitted, err)
	}
}

type judgeFunc func(ctx context.Context, submissionID string) error

func (f judgeFunc) Judge(ctx context.Context, submissionID string) error { return f(ctx, submissionID) }

func TestRecoveryReadmitsIDsHeldByStaleOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	crashed, err := dispatcher.NewRedisClaimer(rc, "host-a/before-restart", time.Minute)
	if err != nil {
		t.Fatalf("new claimer: %v", err)
	}
	restarted, err := dispatcher.NewRedisClaimer(rc, "host-a/after-restart", time.Minute)
	if err != nil {
		t.Fatalf("new claimer: %v", err)
	}
	if ok, err := crashed.Claim(ctx, "orphan"); err != nil || !ok {
		t.Fatalf("seed stale claim: %v %v", ok, err)
	}

	judged := make(chan string, 1)
	disp, err := dispatcher.New(judgeFunc(func(_ context.Context, id string) error {
		select {
		case judged <- id:
		default:
		}
		return nil
	}), dispatcher.Config{Workers: 1, QueueSize: 4}, dispatcher.WithClaimer(restarted))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	disp.Start()
	defer disp.Stop()

	f := newServiceFixture(t, func(cfg *Config) { cfg.Dispatcher = disp })
	_ = f.submissions.Create(ctx, model.Submission{ID: "orphan", Status: model.StatusRunning, CreatedAt: time.Unix(1700000000, 0)})

	if admitted, err := f.svc.Recover(ctx, 10); err != nil || admitted != 0 {
		t.Fatalf("expected the claimed id to be skipped, got %d %v", admitted, err)
	}

	// The crashed owner never refreshes, so its claim lapses.
	mr.FastForward(2 * time.Minute)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.svc.RunRecovery(loopCtx, 10*time.Millisecond, 10)

	select {
	case id := <-judged:
		if id != "orphan" {
			t.Fatalf("expected orphan judged, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("orphan was never re-admitted")
	}
}

func TestRecoverSkipsRecentlyTouchedSubmissions(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, func(cfg *Config) { cfg.RecoveryIdle = time.Hour })
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "fresh", Status: model.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	_ = f.submissions.Create(context.Background(), model.Submission{ID: "stale", Status: model.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now().Add(-2 * time.Hour)})

	admitted, err := f.svc.Recover(context.Background(), 10)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if admitted != 1 || strings.Join(f.admitter.ids, ",") != "stale" {
		t.Fatalf("expected only stale admitted, got %d %v", admitted, f.admitter.ids)
	}
}

func TestRunSamplesUsesVisibleCasesOnly(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)

	res, err := f.svc.RunSamples(context.Background(), RunRequest{UserID: "u1", ProblemID: "p1", Language: "python", Code: "print(input())"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != model.StatusAccepted || res.TestCasePassed != 2 || res.TotalTestCases != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.exec.count() != 2 {
		t.Fatalf("expected 2 executions, got %d", f.exec.count())
	}
	if len(res.Cases) != 2 || res.Cases[1].Output != "world\n" {
		t.Fatalf("expected visible outputs, got %+v", res.Cases)
	}
	if res.Summary.VisibleTotal != 2 || res.Summary.HiddenTotal != 0 || res.Summary.SuccessRate != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if f.submissions.count() != 0 {
		t.Fatalf("run mode must not store submissions")
	}
}

func TestRunSamplesCompilationError(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, nil)

	res, err := f.svc.RunSamples(context.Background(), RunRequest{UserID: "u1", ProblemID: "p1", Language: "c++", Code: "syntax error"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != model.StatusCompilationError || res.TestCasePassed != 0 || !strings.Contains(res.ErrorMessage, "expected ';'") {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.exec.count() != 0 {
		t.Fatalf("expected no executions, got %d", f.exec.count())
	}
}

func TestRunSamplesSlotsBusy(t *testing.T) {
	t.Parallel()
	slots := dispatcher.NewSlots(1)
	f := newServiceFixture(t, func(cfg *Config) {
		cfg.Slots = slots
		cfg.RunSlotWait = 10 * time.Millisecond
	})
	// A judge worker holds the only sandbox slot.
	release, err := slots.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("acquire slot: %v", err)
	}
	defer release()

	_, err = f.svc.RunSamples(context.Background(), RunRequest{UserID: "u1", ProblemID: "p1", Language: "c", Code: "x"})
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()
	problems, tests := sampleProblem()
	submissions := newMemSubmissions()
	statuses := newMemStatuses()
	events := &fakeEventPublisher{}
	solved := &fakeSolved{}
	compiler := &fakeCompiler{}
	notifier := NewNotifier(statuses, events, solved, nil, time.Second)

	orch, err := orchestrator.New(submissions, tests, compiler, evaluator.New(&echoExecutor{}), orchestrator.Config{}, notifier)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	disp, err := dispatcher.New(orch, dispatcher.Config{Workers: 2})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	disp.Start()
	defer disp.Stop()

	svc, err := NewService(Config{
		Submissions: submissions,
		Problems:    problems,
		Tests:       tests,
		Compiler:    compiler,
		Evaluator:   evaluator.New(&echoExecutor{}),
		Dispatcher:  disp,
		Statuses:    statuses,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	sub, err := svc.CreateSubmission(context.Background(), CreateRequest{UserID: "u1", ProblemID: "p1", Language: "python", Code: "print(input())"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !submissions.status(sub.ID).IsTerminal() {
		if time.Now().After(deadline) {
			t.Fatalf("submission did not finish, status %s", submissions.status(sub.ID))
		}
		time.Sleep(5 * time.Millisecond)
	}

	stored, _ := submissions.Load(context.Background(), sub.ID)
	if stored.Status != model.StatusAccepted || stored.TestCasePassed != 3 || stored.TotalTestCases != 3 {
		t.Fatalf("unexpected stored submission %+v", stored)
	}
	if err := svc.SubmitForJudging(context.Background(), sub.ID); !appErr.Is(err, appErr.SubmissionAlreadyJudged) {
		t.Fatalf("expected SubmissionAlreadyJudged, got %v", err)
	}

	// The store flips before the final listeners finish.
	deadline = time.Now().Add(5 * time.Second)
	for {
		solved.mu.Lock()
		n := len(solved.pairs)
		solved.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected solved pair recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, err := svc.GetStatus(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != model.StatusAccepted || status.Summary == nil || status.Summary.HiddenTotal != 1 {
		t.Fatalf("unexpected cached status %+v", status)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 1 || events.events[0].Status != model.StatusAccepted {
		t.Fatalf("expected one accepted event, got %+v", events.events)
	}
	solved.mu.Lock()
	defer solved.mu.Unlock()
	if len(solved.pairs) != 1 || solved.pairs[0] != "u1/p1" {
		t.Fatalf("expected solved pair recorded, got %v", solved.pairs)
	}
}
