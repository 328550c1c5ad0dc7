package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// JudgeService is the pipeline surface served over HTTP.
type JudgeService interface {
	SubmitForJudging(ctx context.Context, submissionID string) error
	CreateSubmission(ctx context.Context, req service.CreateRequest) (model.Submission, error)
	GetStatus(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	RunSamples(ctx context.Context, req service.RunRequest) (service.RunResult, error)
}

// Health reports dispatcher load.
type Health interface {
	Stats() dispatcher.Stats
	Saturated() bool
}

// Options tunes the status stream.
type Options struct {
	WatchInterval time.Duration
	WatchTimeout  time.Duration
}

// JudgeController handles judge HTTP endpoints.
type JudgeController struct {
	svc      JudgeService
	health   Health
	opts     Options
	upgrader websocket.Upgrader
}

// NewJudgeController creates a new controller. health may be nil.
func NewJudgeController(svc JudgeService, health Health, opts Options) *JudgeController {
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 500 * time.Millisecond
	}
	if opts.WatchTimeout <= 0 {
		opts.WatchTimeout = 10 * time.Minute
	}
	return &JudgeController{
		svc:    svc,
		health: health,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// CreateSubmissionRequest defines the submission payload.
type CreateSubmissionRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// CreateSubmissionResponse is returned once a submission is stored and admitted.
type CreateSubmissionResponse struct {
	SubmissionID string       `json:"submissionId"`
	Status       model.Status `json:"status"`
	CreatedAt    int64        `json:"createdAt"`
}

// RunRequest defines the sample run payload.
type RunRequest struct {
	Language string `json:"language" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// CreateSubmission stores a submission for the authenticated user.
func (h *JudgeController) CreateSubmission(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.svc.CreateSubmission(c.Request.Context(), service.CreateRequest{
		UserID:    middleware.UserID(c),
		ProblemID: strings.TrimSpace(req.ProblemID),
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, CreateSubmissionResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		CreatedAt:    sub.CreatedAt.Unix(),
	})
}

// Judge admits an existing submission.
func (h *JudgeController) Judge(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.svc.SubmitForJudging(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"submissionId": submissionID})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Run judges code against the visible cases of a problem.
func (h *JudgeController) Run(c *gin.Context) {
	problemID := strings.TrimSpace(c.Param("id"))
	var req RunRequest
	if problemID == "" || c.ShouldBindJSON(&req) != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.svc.RunSamples(c.Request.Context(), service.RunRequest{
		UserID:    middleware.UserID(c),
		ProblemID: problemID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// WatchStatus streams status changes over a websocket until the submission
// is terminal, the client leaves or the watch times out.
func (h *JudgeController) WatchStatus(c *gin.Context) {
	submissionID := c.Param("id")
	ctx := c.Request.Context()
	first, err := h.svc.GetStatus(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, h.opts.WatchTimeout)
	defer cancel()
	go func() {
		// Any read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.opts.WatchInterval)
	defer ticker.Stop()
	last := first
	if err := conn.WriteJSON(first); err != nil {
		return
	}
	for !last.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "watch ended"), time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
		status, err := h.svc.GetStatus(ctx, submissionID)
		if err != nil {
			logger.Warn(ctx, "watch status failed", zap.String("submission_id", submissionID), zap.Error(err))
			continue
		}
		if sameStatus(status, last) {
			continue
		}
		last = status
		if err := conn.WriteJSON(status); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status)), time.Now().Add(time.Second))
}

// Healthz reports liveness and dispatcher load.
func (h *JudgeController) Healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	body := gin.H{"status": "ok", "dispatcher": h.health.Stats()}
	if h.health.Saturated() {
		body["status"] = "saturated"
	}
	c.JSON(http.StatusOK, body)
}

// RegisterRoutes mounts the judge API. auth guards user-facing writes.
func (h *JudgeController) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	if auth == nil {
		auth = func(c *gin.Context) {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "authentication is not configured")
		}
	}
	r.GET("/healthz", h.Healthz)
	api := r.Group("/api/v1")
	api.POST("/submissions", auth, h.CreateSubmission)
	api.GET("/submissions/:id", h.GetStatus)
	api.GET("/submissions/:id/watch", h.WatchStatus)
	api.POST("/judge/submissions/:id", h.Judge)
	api.POST("/problems/:id/run", auth, h.Run)
}

func sameStatus(a, b model.JudgeStatus) bool {
	return a.Status == b.Status && a.TestCasePassed == b.TestCasePassed &&
		a.TotalTestCases == b.TotalTestCases && a.UpdatedAt == b.UpdatedAt
}
