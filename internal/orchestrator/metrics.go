package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
)

const instrumentationName = "github.com/fyrsmithlabs/finsight/internal/orchestrator"

var tracer = otel.Tracer(instrumentationName)

// Metrics holds the run instruments.
type Metrics struct {
	runDuration     metric.Float64Histogram
	runs            metric.Int64Counter
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	verdicts        metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	m.runDuration, err = meter.Float64Histogram(
		"finsight.run.duration_seconds",
		metric.WithDescription("Duration of research runs by outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		logger.Warn("failed to create run duration histogram", zap.Error(err))
	}

	m.runs, err = meter.Int64Counter(
		"finsight.runs_total",
		metric.WithDescription("Research runs by outcome and failed stage"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.attempts, err = meter.Int64Counter(
		"finsight.agent.attempts_total",
		metric.WithDescription("Agent executions by agent and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create attempts counter", zap.Error(err))
	}

	m.attemptDuration, err = meter.Float64Histogram(
		"finsight.agent.attempt_duration_seconds",
		metric.WithDescription("Duration of single agent executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create attempt duration histogram", zap.Error(err))
	}

	m.verdicts, err = meter.Int64Counter(
		"finsight.gate.verdicts_total",
		metric.WithDescription("Quality gate verdicts observed by the orchestrator"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		logger.Warn("failed to create verdicts counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordRun(ctx context.Context, outcome, stage string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if m.runs != nil {
		if outcome == "failed" {
			attrs = metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("stage", stage))
		}
		m.runs.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordAttempt(ctx context.Context, agent finding.Producer, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("agent", string(agent)), attribute.String("result", result))
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
	if m.attemptDuration != nil {
		m.attemptDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) recordVerdict(ctx context.Context, agent finding.Producer, accepted bool) {
	if m == nil || m.verdicts == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", string(agent)),
		attribute.Bool("accepted", accepted)))
}
