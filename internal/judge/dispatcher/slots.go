package dispatcher

import (
	"context"
	"sync"
	"time"

	appErr "codejudge/pkg/errors"
)

// Slots bounds how many sandboxes run at once. Judge workers and run-mode
// requests draw from the same pool.
type Slots struct {
	sem chan struct{}
}

// NewSlots creates a pool of n slots.
func NewSlots(n int) *Slots {
	if n <= 0 {
		n = 1
	}
	return &Slots{sem: make(chan struct{}, n)}
}

// Acquire takes a slot, waiting at most wait. It returns JudgeQueueFull when
// none frees up in time. The returned release is idempotent.
func (s *Slots) Acquire(ctx context.Context, wait time.Duration) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return s.releaser(), nil
	default:
	}
	if wait <= 0 {
		return nil, appErr.New(appErr.JudgeQueueFull).WithMessage("sandbox slots are busy")
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return s.releaser(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, appErr.New(appErr.JudgeQueueFull).WithMessage("sandbox slots are busy")
	}
}

// InUse reports how many slots are taken.
func (s *Slots) InUse() int {
	return len(s.sem)
}

func (s *Slots) acquireUntil(stop <-chan struct{}) (func(), bool) {
	select {
	case s.sem <- struct{}{}:
		return s.releaser(), true
	case <-stop:
		return nil, false
	}
}

func (s *Slots) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}
}
