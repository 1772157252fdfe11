package pkg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_tasks_dispatched_total",
		Help: "The total number of tasks dispatched to workers",
	}, []string{"worker"})

	resultsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_results_processed_total",
		Help: "The total number of task results processed by status",
	}, []string{"status"})

	pendingResults = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drover_pending_results",
		Help: "The number of dispatched tasks whose results are still pending",
	})

	workerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_worker_failures_total",
		Help: "The total number of worker process failures",
	}, []string{"worker"})

	handlerNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_handler_notifications_total",
		Help: "The total number of handler notifications recorded",
	}, []string{"handler"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drover_task_duration_seconds",
		Help:    "The duration of task executions in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})
)

// Inc increments a counter metric
func Inc(name string, labels map[string]string) {
	switch name {
	case "drover_tasks_dispatched_total":
		tasksDispatched.With(labels).Inc()
	case "drover_results_processed_total":
		resultsProcessed.With(labels).Inc()
	case "drover_worker_failures_total":
		workerFailures.With(labels).Inc()
	case "drover_handler_notifications_total":
		handlerNotifications.With(labels).Inc()
	}
}

// SetGauge sets a gauge metric
func SetGauge(name string, value float64) {
	switch name {
	case "drover_pending_results":
		pendingResults.Set(value)
	}
}

// Observe records a value in a histogram metric
func Observe(name string, value float64, labels map[string]string) {
	switch name {
	case "drover_task_duration_seconds":
		taskDuration.With(labels).Observe(value)
	}
}
