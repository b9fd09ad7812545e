// Package observability provides metrics, tracing and events for the linking
// pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
)

// Task status label values.
const (
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
	TaskStatusAborted   = "aborted"
)

// Queue event label values.
const (
	QueueEventEnqueued   = "enqueued"
	QueueEventDuplicate  = "duplicate"
	QueueEventSuperseded = "superseded"
	QueueEventRemoved    = "removed"
)

// Metrics holds all Prometheus metrics for the linking pipeline.
type Metrics struct {
	// Queue metrics
	QueueEventsTotal *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	QueueWaitSeconds *prometheus.HistogramVec

	// Task metrics
	TasksTotal  *prometheus.CounterVec
	TaskSeconds *prometheus.HistogramVec

	// Linking metrics
	LinkOutcomesTotal *prometheus.CounterVec

	// Engine metrics
	EngineRequestsTotal *prometheus.CounterVec
	EngineLatency       prometheus.Histogram

	ProgressEntries *prometheus.GaugeVec
}

// DefaultMetrics registers metrics with the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the linking metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linking_queue_events_total",
				Help: "Enqueue outcomes per queue",
			},
			[]string{"queue", "event"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linking_queue_depth",
				Help: "Tasks waiting per queue",
			},
			[]string{"queue"},
		),
		QueueWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linking_queue_wait_seconds",
				Help:    "Time a task waited before a worker picked it up",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"queue"},
		),
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linking_tasks_total",
				Help: "Finished tasks by kind and status",
			},
			[]string{"kind", "status", "code"},
		),
		TaskSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linking_task_seconds",
				Help:    "Task run time by kind",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		LinkOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linking_group_outcomes_total",
				Help: "Occurrence groups by linking outcome",
			},
			[]string{"outcome"},
		),
		EngineRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linking_engine_requests_total",
				Help: "Annotation engine attempts by outcome",
			},
			[]string{"outcome"},
		),
		EngineLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linking_engine_latency_seconds",
				Help:    "Annotation engine attempt latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		ProgressEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linking_progress_entries",
				Help: "Documents tracked by pipeline state",
			},
			[]string{"state"},
		),
	}
}

// RecordQueueEvent counts an enqueue outcome.
func (m *Metrics) RecordQueueEvent(queue, event string) {
	m.QueueEventsTotal.WithLabelValues(queue, event).Inc()
}

// RecordQueueDepth sets the current queue depth.
func (m *Metrics) RecordQueueDepth(queue string, depth int64) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueWait records how long a task waited.
func (m *Metrics) RecordQueueWait(queue string, wait time.Duration) {
	m.QueueWaitSeconds.WithLabelValues(queue).Observe(wait.Seconds())
}

// RecordTask records a finished task. code is empty on success.
func (m *Metrics) RecordTask(kind, status, code string, d time.Duration) {
	m.TasksTotal.WithLabelValues(kind, status, code).Inc()
	m.TaskSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// SetProgressEntries sets the number of documents in state.
func (m *Metrics) SetProgressEntries(state string, n int) {
	m.ProgressEntries.WithLabelValues(state).Set(float64(n))
}

// ObserveLink counts a group's linking outcome.
func (m *Metrics) ObserveLink(outcome resolver.Outcome) {
	m.LinkOutcomesTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveEngineRequest records one annotation engine attempt.
func (m *Metrics) ObserveEngineRequest(outcome string, d time.Duration) {
	m.EngineRequestsTotal.WithLabelValues(outcome).Inc()
	m.EngineLatency.Observe(d.Seconds())
}

// Verify interface compliance
var _ resolver.Observer = (*Metrics)(nil)
