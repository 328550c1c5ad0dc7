// Package dispatcher admits submissions into a bounded FIFO queue served by a
// fixed pool of judge workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codejudge/internal/judge/sandbox/observer"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judge runs one submission to completion.
type Judge interface {
	Judge(ctx context.Context, submissionID string) error
}

// Claimer excludes other service instances from judging the same id.
// Claims are held for as long as the id is queued or running, so Refresh is
// called periodically for every in-flight id.
type Claimer interface {
	Claim(ctx context.Context, submissionID string) (bool, error)
	Refresh(ctx context.Context, submissionID string) (bool, error)
	Release(ctx context.Context, submissionID string) error
}

// Config sizes the worker pool and the queue.
type Config struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	// ClaimRefresh is the claim keepalive period. It defaults to a third of
	// the claimer TTL when the claimer reports one.
	ClaimRefresh time.Duration
}

const (
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 2 * time.Second
	defaultClaimRefresh   = time.Minute
)

type inflightState int

const (
	stateClaiming inflightState = iota
	stateQueued
	stateRunning
)

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Workers  int `json:"workers"`
	Capacity int `json:"capacity"`
	Queued   int `json:"queued"`
	Active   int `json:"active"`
	InFlight int `json:"inFlight"`
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClaimer mirrors the in-flight set into a shared claim store.
func WithClaimer(c Claimer) Option {
	return func(d *Dispatcher) { d.claimer = c }
}

// WithRecorder reports queue depth and active workers.
func WithRecorder(r observer.JudgeRecorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// Dispatcher guarantees that an id is queued or running at most once.
type Dispatcher struct {
	judge    Judge
	cfg      Config
	claimer  Claimer
	recorder observer.JudgeRecorder
	slots    *Slots

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	keeperDone chan struct{}
	keeperWG   sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]inflightState
	active   int
	started  bool
	stopped  bool
}

// New creates a dispatcher. Workers start on Start.
func New(judge Judge, cfg Config, opts ...Option) (*Dispatcher, error) {
	if judge == nil {
		return nil, appErr.ValidationError("judge", "required")
	}
	if cfg.Workers <= 0 {
		return nil, appErr.ValidationError("workers", "must be positive")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	d := &Dispatcher{
		judge:      judge,
		cfg:        cfg,
		recorder:   observer.NoopMetricsRecorder{},
		slots:      NewSlots(cfg.Workers),
		queue:      make(chan string, cfg.QueueSize),
		stop:       make(chan struct{}),
		keeperDone: make(chan struct{}),
		inflight:   make(map[string]inflightState),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.ClaimRefresh <= 0 {
		d.cfg.ClaimRefresh = defaultClaimRefresh
		if withTTL, ok := d.claimer.(interface{ TTL() time.Duration }); ok && withTTL.TTL() > 0 {
			d.cfg.ClaimRefresh = withTTL.TTL() / 3
		}
	}
	return d, nil
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	if d.claimer != nil {
		d.keeperWG.Add(1)
		go d.keepClaims()
	}
}

// Submit admits an id for judging. It returns JudgeDuplicate when the id is
// already queued or running, and JudgeQueueFull when no queue slot frees up
// within the enqueue timeout.
func (d *Dispatcher) Submit(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return appErr.New(appErr.ServiceUnavailable).WithMessage("dispatcher is stopped")
	}
	if _, ok := d.inflight[submissionID]; ok {
		d.mu.Unlock()
		return appErr.Newf(appErr.JudgeDuplicate, "submission %s is already queued or running", submissionID)
	}
	d.inflight[submissionID] = stateClaiming
	d.mu.Unlock()

	if d.claimer != nil {
		ok, err := d.claimer.Claim(ctx, submissionID)
		if err != nil {
			d.forget(submissionID)
			return appErr.Wrapf(err, appErr.ServiceUnavailable, "claim submission failed")
		}
		if !ok {
			d.forget(submissionID)
			return appErr.Newf(appErr.JudgeDuplicate, "submission %s is being judged elsewhere", submissionID)
		}
	}
	d.mu.Lock()
	d.inflight[submissionID] = stateQueued
	d.mu.Unlock()

	timer := time.NewTimer(d.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- submissionID:
		d.recorder.SetQueueDepth(len(d.queue))
		return nil
	case <-timer.C:
		d.abandon(submissionID)
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue is full")
	case <-ctx.Done():
		d.abandon(submissionID)
		return ctx.Err()
	case <-d.stop:
		d.abandon(submissionID)
		return appErr.New(appErr.ServiceUnavailable).WithMessage("dispatcher is stopped")
	}
}

// Slots is the sandbox capacity shared by judge workers and run-mode requests.
func (d *Dispatcher) Slots() *Slots {
	return d.slots
}

// Stats reports queue and worker occupancy.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Workers:  d.cfg.Workers,
		Capacity: d.cfg.QueueSize,
		Queued:   len(d.queue),
		Active:   d.active,
		InFlight: len(d.inflight),
	}
}

// Saturated reports whether every worker is busy and the queue is full.
func (d *Dispatcher) Saturated() bool {
	s := d.Stats()
	return s.Active >= s.Workers && s.Queued >= s.Capacity
}

// Stop refuses new work, lets running judgings finish and drops queued ids.
// Dropped submissions stay non-terminal in storage and are picked up by recovery.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
	// Running judgings have drained; nothing is left to keep alive.
	close(d.keeperDone)
	d.keeperWG.Wait()
	for {
		select {
		case id := <-d.queue:
			d.abandon(id)
		default:
			d.recorder.SetQueueDepth(0)
			return
		}
	}
}

// keepClaims refreshes the shared claim of every queued or running id until
// the dispatcher has stopped and its workers have returned.
func (d *Dispatcher) keepClaims() {
	defer d.keeperWG.Done()
	ticker := time.NewTicker(d.cfg.ClaimRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-d.keeperDone:
			return
		case <-ticker.C:
			for _, id := range d.inflightIDs() {
				d.refreshClaim(id)
			}
		}
	}
}

func (d *Dispatcher) refreshClaim(submissionID string) {
	ctx := logger.WithSubmission(context.Background(), submissionID)
	ok, err := d.claimer.Refresh(ctx, submissionID)
	if err != nil {
		logger.Warn(ctx, "refresh submission claim failed", zap.Error(err))
		return
	}
	if !ok && d.isInflight(submissionID) {
		logger.Error(ctx, "submission claim lost")
	}
}

func (d *Dispatcher) isInflight(submissionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[submissionID]
	return ok
}

func (d *Dispatcher) inflightIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.inflight))
	for id, state := range d.inflight {
		if state != stateClaiming {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		// Stop wins over pending queue entries.
		select {
		case <-d.stop:
			return
		default:
		}
		select {
		case <-d.stop:
			return
		case id := <-d.queue:
			d.recorder.SetQueueDepth(len(d.queue))
			release, ok := d.slots.acquireUntil(d.stop)
			if !ok {
				d.abandon(id)
				return
			}
			d.run(id)
			release()
		}
	}
}

func (d *Dispatcher) run(submissionID string) {
	ctx := logger.WithSubmission(context.Background(), submissionID)
	d.mu.Lock()
	d.inflight[submissionID] = stateRunning
	d.active++
	d.recorder.SetActive(d.active)
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked", zap.String("panic", fmt.Sprint(r)))
		}
		d.mu.Lock()
		d.active--
		d.recorder.SetActive(d.active)
		d.mu.Unlock()
		d.abandon(submissionID)
	}()

	if err := d.judge.Judge(ctx, submissionID); err != nil {
		logger.Warn(ctx, "judge returned error", zap.Error(err))
	}
}

func (d *Dispatcher) forget(submissionID string) {
	d.mu.Lock()
	delete(d.inflight, submissionID)
	d.mu.Unlock()
}

// abandon removes the id locally and releases its shared claim.
func (d *Dispatcher) abandon(submissionID string) {
	if d.claimer != nil {
		if err := d.claimer.Release(context.Background(), submissionID); err != nil {
			logger.Warn(context.Background(), "release submission claim failed",
				zap.String("submission_id", submissionID),
				zap.Error(err),
			)
		}
	}
	d.forget(submissionID)
}
