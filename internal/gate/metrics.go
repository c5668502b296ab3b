package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/finsight/internal/finding"
)

var (
	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "gate",
			Name:      "verdicts_total",
			Help:      "Quality gate verdicts by agent",
		},
		[]string{"agent", "verdict"},
	)

	violationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "gate",
			Name:      "violations_total",
			Help:      "Quality gate violations by agent, type and severity",
		},
		[]string{"agent", "type", "severity"},
	)
)

func recordVerdict(agent finding.Producer, v Verdict) {
	verdict := "rejected"
	if v.Accepted {
		verdict = "accepted"
	}
	verdictsTotal.WithLabelValues(string(agent), verdict).Inc()
}

func recordViolation(v Violation) {
	violationsTotal.WithLabelValues(string(v.Agent), string(v.Type), string(v.Severity)).Inc()
}
