package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu       sync.Mutex
	created  []service.CreateRequest
	judged   []string
	runs     []service.RunRequest
	statuses []model.JudgeStatus
	polls    int
	err      error
}

func (f *fakeService) SubmitForJudging(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.judged = append(f.judged, id)
	return nil
}

func (f *fakeService) CreateSubmission(_ context.Context, req service.CreateRequest) (model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Submission{}, f.err
	}
	f.created = append(f.created, req)
	return model.Submission{ID: "s1", Status: model.StatusPending, CreatedAt: time.Unix(1700000000, 0)}, nil
}

// GetStatus walks through statuses, repeating the last one.
func (f *fakeService) GetStatus(_ context.Context, id string) (model.JudgeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.JudgeStatus{}, f.err
	}
	if len(f.statuses) == 0 {
		return model.JudgeStatus{}, appErr.New(appErr.SubmissionNotFound)
	}
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

func (f *fakeService) RunSamples(_ context.Context, req service.RunRequest) (service.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return service.RunResult{}, f.err
	}
	f.runs = append(f.runs, req)
	return service.RunResult{Status: model.StatusAccepted, TestCasePassed: 2, TotalTestCases: 2}, nil
}

type fakeHealth struct{ saturated bool }

func (h fakeHealth) Stats() dispatcher.Stats { return dispatcher.Stats{Workers: 2, Capacity: 8} }
func (h fakeHealth) Saturated() bool         { return h.saturated }

// fakeAuth authenticates every request as user u1.
func fakeAuth(c *gin.Context) {
	c.Set(middleware.UserIDKey, "u1")
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, "u1"))
	c.Next()
}

func newRouter(svc JudgeService, health Health) *gin.Engine {
	r := gin.New()
	h := NewJudgeController(svc, health, Options{WatchInterval: 5 * time.Millisecond, WatchTimeout: 5 * time.Second})
	h.RegisterRoutes(r, fakeAuth)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, env
}

func TestCreateSubmission(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	r := newRouter(svc, nil)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/submissions", `{"problemId":" p1 ","language":"python","code":"print(input())"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	var resp CreateSubmissionResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil || resp.SubmissionID != "s1" || resp.Status != model.StatusPending {
		t.Fatalf("unexpected response %s %v", env.Data, err)
	}
	if len(svc.created) != 1 || svc.created[0].UserID != "u1" || svc.created[0].ProblemID != "p1" {
		t.Fatalf("unexpected create request %+v", svc.created)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/submissions", `{"problemId":"p1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestErrorCodesMapToHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		method string
		path   string
		body   string
		want   int
	}{
		{name: "cooldown", err: appErr.New(appErr.SubmitTooFrequently), method: http.MethodPost, path: "/api/v1/submissions", body: `{"problemId":"p1","language":"c","code":"x"}`, want: http.StatusTooManyRequests},
		{name: "queue-full", err: appErr.New(appErr.JudgeQueueFull), method: http.MethodPost, path: "/api/v1/judge/submissions/s1", want: http.StatusServiceUnavailable},
		{name: "missing", err: appErr.New(appErr.SubmissionNotFound), method: http.MethodGet, path: "/api/v1/submissions/s1", want: http.StatusNotFound},
		{name: "language", err: appErr.New(appErr.LanguageNotSupported), method: http.MethodPost, path: "/api/v1/problems/p1/run", body: `{"language":"cobol","code":"x"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRouter(&fakeService{err: tt.err}, nil)
			w, env := doJSON(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d %s", tt.want, w.Code, w.Body.String())
			}
			if env.Code != int(appErr.GetCode(tt.err)) {
				t.Fatalf("expected code %d, got %d", appErr.GetCode(tt.err), env.Code)
			}
		})
	}
}

func TestJudgeAndStatus(t *testing.T) {
	t.Parallel()
	svc := &fakeService{statuses: []model.JudgeStatus{{SubmissionID: "s1", Status: model.StatusRunning}}}
	r := newRouter(svc, nil)

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/judge/submissions/s1", "")
	if w.Code != http.StatusAccepted || len(svc.judged) != 1 || svc.judged[0] != "s1" {
		t.Fatalf("expected s1 admitted, got %d %v", w.Code, svc.judged)
	}
	w, env := doJSON(t, r, http.MethodGet, "/api/v1/submissions/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status model.JudgeStatus
	if err := json.Unmarshal(env.Data, &status); err != nil || status.Status != model.StatusRunning {
		t.Fatalf("unexpected status %s %v", env.Data, err)
	}
}

func TestRunUsesPathProblem(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	r := newRouter(svc, nil)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/problems/p9/run", `{"language":"c++","code":"int main(){}"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if len(svc.runs) != 1 || svc.runs[0].ProblemID != "p9" || svc.runs[0].UserID != "u1" {
		t.Fatalf("unexpected run request %+v", svc.runs)
	}
	var res service.RunResult
	if err := json.Unmarshal(env.Data, &res); err != nil || res.Status != model.StatusAccepted {
		t.Fatalf("unexpected run result %s %v", env.Data, err)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	t.Parallel()
	r := gin.New()
	NewJudgeController(&fakeService{}, nil, Options{}).RegisterRoutes(r, middleware.Auth(middleware.AuthConfig{Secret: "s3cret"}))

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/submissions", `{"problemId":"p1","language":"c","code":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	r := newRouter(&fakeService{}, fakeHealth{saturated: true})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"saturated"`) {
		t.Fatalf("unexpected health %d %s", w.Code, w.Body.String())
	}
}

func TestWatchStatusStreamsUntilTerminal(t *testing.T) {
	t.Parallel()
	svc := &fakeService{statuses: []model.JudgeStatus{
		{SubmissionID: "s1", Status: model.StatusPending, UpdatedAt: 1},
		{SubmissionID: "s1", Status: model.StatusPending, UpdatedAt: 1},
		{SubmissionID: "s1", Status: model.StatusRunning, UpdatedAt: 2},
		{SubmissionID: "s1", Status: model.StatusAccepted, TestCasePassed: 1, TotalTestCases: 1, UpdatedAt: 3},
	}}
	server := httptest.NewServer(newRouter(svc, nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/submissions/s1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []model.Status
	for {
		var status model.JudgeStatus
		if err := conn.ReadJSON(&status); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read: %v", err)
		}
		got = append(got, status.Status)
	}
	want := []model.Status{model.StatusPending, model.StatusRunning, model.StatusAccepted}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestWatchUnknownSubmission(t *testing.T) {
	t.Parallel()
	r := newRouter(&fakeService{}, nil)
	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/submissions/nope/watch", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
