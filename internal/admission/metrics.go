package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Admission rejections by reason",
		},
		[]string{"reason"},
	)
)

func observeDecision(stage string, d Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
		rejectionsTotal.WithLabelValues(string(d.Reason)).Inc()
	}
	decisionsTotal.WithLabelValues(stage, outcome).Inc()
}
