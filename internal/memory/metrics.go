package memory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finsight",
		Subsystem: "memory",
		Name:      "operations_total",
		Help:      "Memory store operations by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finsight",
		Subsystem: "memory",
		Name:      "operation_duration_seconds",
		Help:      "Memory store operation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	storedFindings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "finsight",
		Subsystem: "memory",
		Name:      "findings",
		Help:      "Findings currently indexed",
	})
)

func observe(op string, start time.Time, err *error) {
	result := "ok"
	if err != nil && *err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
