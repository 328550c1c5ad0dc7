package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codejudge"

// Prometheus implements MetricsRecorder and JudgeRecorder.
type Prometheus struct {
	compileTotal    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runMemory       *prometheus.HistogramVec
	verdictTotal    *prometheus.CounterVec
	judgeDuration   *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	active          prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		compileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "compile_total",
			Help:      "Total number of compilations.",
		}, []string{"language", "ok"}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "compile_cpu_seconds",
			Help:      "CPU time spent compiling.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "run_total",
			Help:      "Total number of test case executions.",
		}, []string{"language", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "run_cpu_seconds",
			Help:      "CPU time of one test case execution.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "run_memory_kb",
			Help:      "Peak memory of one test case execution.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"language"}),
		verdictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "verdict_total",
			Help:      "Total number of final verdicts.",
		}, []string{"language", "status"}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "duration_seconds",
			Help:      "Wall time from admission to the terminal write.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"language"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Submissions admitted but not yet picked by a worker.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "active_workers",
			Help:      "Workers currently judging a submission.",
		}),
	}
	collectors := []prometheus.Collector{
		p.compileTotal, p.compileDuration, p.runTotal, p.runDuration, p.runMemory,
		p.verdictTotal, p.judgeDuration, p.queueDepth, p.active,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveCompile(ctx context.Context, language string, ok bool, timeMs int64, memoryKB int64) {
	p.compileTotal.WithLabelValues(language, strconv.FormatBool(ok)).Inc()
	p.compileDuration.WithLabelValues(language).Observe(float64(timeMs) / 1000)
}

func (p *Prometheus) ObserveRun(ctx context.Context, language string, status string, timeMs int64, memoryKB int64, outputKB int64) {
	p.runTotal.WithLabelValues(language, status).Inc()
	p.runDuration.WithLabelValues(language).Observe(float64(timeMs) / 1000)
	p.runMemory.WithLabelValues(language).Observe(float64(memoryKB))
}

func (p *Prometheus) ObserveVerdict(ctx context.Context, language string, status string, elapsed time.Duration) {
	p.verdictTotal.WithLabelValues(language, status).Inc()
	p.judgeDuration.WithLabelValues(language).Observe(elapsed.Seconds())
}

func (p *Prometheus) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }

func (p *Prometheus) SetActive(n int) { p.active.Set(float64(n)) }
