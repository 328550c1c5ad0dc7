// Package observer defines metrics hooks for sandbox execution and judging.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, language string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, language string, status string, timeMs int64, memoryKB int64, outputKB int64)
}

// JudgeRecorder records pipeline-level metrics.
type JudgeRecorder interface {
	ObserveVerdict(ctx context.Context, language string, status string, elapsed time.Duration)
	SetQueueDepth(n int)
	SetActive(n int)
}

// NoopMetricsRecorder discards every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, language string, ok bool, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, language string, status string, timeMs int64, memoryKB int64, outputKB int64) {
}

func (NoopMetricsRecorder) ObserveVerdict(ctx context.Context, language string, status string, elapsed time.Duration) {
}

func (NoopMetricsRecorder) SetQueueDepth(n int) {}

func (NoopMetricsRecorder) SetActive(n int) {}
