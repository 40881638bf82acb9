package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_queue_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"backend", "lane"},
	)

	tasksDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_queue_dlq_total",
			Help: "Total number of tasks moved to the dead-letter lane",
		},
		[]string{"lane"},
	)
)

func recordTaskEnqueued(backend string, task *Task) {
	if task == nil {
		return
	}
	tasksEnqueuedTotal.WithLabelValues(
		normalizeMetricLabel(backend, "unknown"),
		normalizeMetricLabel(task.Lane, "unknown"),
	).Inc()
}

func recordTaskDLQ(lane string) {
	tasksDLQTotal.WithLabelValues(normalizeMetricLabel(lane, "unknown")).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
