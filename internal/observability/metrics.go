package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests to the status server.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deployctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	remoteCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployctl",
			Subsystem: "remote",
			Name:      "commands_total",
			Help:      "Commands sent to deploy hosts by outcome.",
		},
		[]string{"host", "status"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deployctl",
			Subsystem: "remote",
			Name:      "command_duration_seconds",
			Help:      "Remote command duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"host"},
	)
	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployctl",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Task executions by outcome.",
		},
		[]string{"task", "outcome"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deployctl",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task duration in seconds across all hosts.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, remoteCommands, remoteDuration, taskRuns, taskDuration)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRemoteCommand(host, status string, duration time.Duration) {
	RegisterMetrics()
	remoteCommands.WithLabelValues(host, status).Inc()
	remoteDuration.WithLabelValues(host).Observe(duration.Seconds())
}

func RecordTask(task, outcome string, duration time.Duration) {
	RegisterMetrics()
	taskRuns.WithLabelValues(task, outcome).Inc()
	taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}
