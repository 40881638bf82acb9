package dispatch

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_deliveries_processed_total",
			Help: "Total number of delivery attempts finished by workers",
		},
		[]string{"lane", "status"},
	)

	deliveriesRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_deliveries_retry_total",
			Help: "Total number of delivery retries scheduled by workers",
		},
		[]string{"lane"},
	)

	deliveriesDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_deliveries_dlq_total",
			Help: "Total number of notifications dead-lettered by workers",
		},
		[]string{"lane"},
	)

	deliveriesInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayq_deliveries_inflight",
			Help: "Current number of in-flight deliveries being processed",
		},
		[]string{"lane"},
	)
)

func recordDeliveryProcessed(lane, status string) {
	deliveriesProcessedTotal.WithLabelValues(
		normalizeMetricLabel(lane, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func recordDeliveryRetry(lane string) {
	deliveriesRetryTotal.WithLabelValues(normalizeMetricLabel(lane, "unknown")).Inc()
}

func recordDeliveryDLQ(lane string) {
	deliveriesDLQTotal.WithLabelValues(normalizeMetricLabel(lane, "unknown")).Inc()
}

func incrementDeliveryInFlight(lane string) {
	deliveriesInFlight.WithLabelValues(normalizeMetricLabel(lane, "unknown")).Inc()
}

func decrementDeliveryInFlight(lane string) {
	deliveriesInFlight.WithLabelValues(normalizeMetricLabel(lane, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
