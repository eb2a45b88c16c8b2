package broker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	TaskPushExperiment       = "push_experiment"
	TaskCheckPushQueue       = "check_push_queue"
	TaskCheckExperimentsLive = "check_experiments_are_live"
	TaskCheckExperimentsDone = "check_experiments_are_complete"
)

const (
	eventStarted                  = "started"
	eventCompleted                = "completed"
	eventFailed                   = "failed"
	eventPendingReview            = "pending_review"
	eventRejected                 = "rejected"
	eventLocked                   = "locked"
	eventQueuedExperimentSelected = "queued_experiment_selected"
	eventNoExperimentsQueued      = "no_experiments_queued"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for broker tasks.
type Metrics struct {
	TaskEventsTotal *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
}

// NewMetrics registers the broker metrics once per process.
//
// Metrics:
//   - experiment_broker_task_events_total{task,event}
//   - experiment_broker_task_duration_seconds{task}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TaskEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "experiment_broker_task_events_total",
					Help: "Total number of broker task events",
				},
				[]string{"task", "event"},
			),
			TaskDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "experiment_broker_task_duration_seconds",
					Help:    "Duration of broker task runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
				},
				[]string{"task"},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) incr(task, event string) {
	m.TaskEventsTotal.WithLabelValues(task, event).Inc()
}

// time starts a duration observation for task; call the returned func when done.
func (m *Metrics) time(task string) func() {
	start := time.Now()
	return func() {
		m.TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	}
}
