package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_sessions_active",
			Help: "Number of open worker sessions",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_api_requests_total",
			Help: "Total number of API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_scheduling_latency_seconds",
			Help:    "Time taken to assign a task in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_tasks_scheduled_total",
			Help: "Total number of tasks assigned to workers",
		},
	)

	TasksReassigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_tasks_reassigned_total",
			Help: "Total number of tasks returned to pending after worker loss",
		},
	)

	// Message bus metrics
	BusQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_bus_queue_depth",
			Help: "Queued messages by priority",
		},
		[]string{"priority"},
	)

	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_bus_messages_total",
			Help: "Total number of bus messages by outcome",
		},
		[]string{"outcome"},
	)

	// Liveness metrics
	HeartbeatSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_heartbeat_sweeps_total",
			Help: "Total number of liveness sweep cycles",
		},
	)

	WorkerTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_worker_timeouts_total",
			Help: "Total number of workers marked offline by the liveness monitor",
		},
	)

	// Persistence metrics
	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_persistence_snapshots_total",
			Help: "Total number of snapshots written",
		},
	)

	PersistenceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_persistence_errors_total",
			Help: "Total number of persistence failures",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksReassigned)
	prometheus.MustRegister(BusQueueDepth)
	prometheus.MustRegister(BusMessagesTotal)
	prometheus.MustRegister(HeartbeatSweeps)
	prometheus.MustRegister(WorkerTimeouts)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(PersistenceErrors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
