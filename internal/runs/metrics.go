package runs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "finsight",
		Subsystem: "runs",
		Name:      "active",
		Help:      "Runs submitted and not yet finished",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finsight",
		Subsystem: "runs",
		Name:      "finished_total",
		Help:      "Finished runs by status",
	}, []string{"status"})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finsight",
		Subsystem: "runs",
		Name:      "event_publish_failures_total",
		Help:      "Run events that could not be published",
	})
)
