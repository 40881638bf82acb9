package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relayq_admission_decisions_total",
		Help: "Admission gate decisions by result.",
	},
	[]string{"result"},
)

func recordDecision(result string) {
	decisionsTotal.WithLabelValues(result).Inc()
}
