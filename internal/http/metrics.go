package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/finsight/internal/http"

// HTTPMetrics records API traffic and accepted run submissions.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	bodySize    metric.Int64Histogram
	inFlight    metric.Int64UpDownCounter
	submissions metric.Int64Counter
}

// NewHTTPMetrics creates metrics on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{meter: meter, logger: logger}

	var err error
	if m.requests, err = meter.Int64Counter("finsight.http.requests_total",
		metric.WithDescription("API requests by method, route and status."),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("finsight.http.requests_total", err)
	}
	if m.latency, err = meter.Float64Histogram("finsight.http.request_duration_seconds",
		metric.WithDescription("API request latency."),
		metric.WithUnit("s"),
		// ?wait=true requests hold the connection for the whole run.
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300),
	); err != nil {
		m.warn("finsight.http.request_duration_seconds", err)
	}
	if m.bodySize, err = meter.Int64Histogram("finsight.http.response_size_bytes",
		metric.WithDescription("API response body size. Reports dominate the upper buckets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 1024, 4096, 16384, 65536, 262144),
	); err != nil {
		m.warn("finsight.http.response_size_bytes", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("finsight.http.active_requests",
		metric.WithDescription("API requests being served."),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("finsight.http.active_requests", err)
	}
	if m.submissions, err = meter.Int64Counter("finsight.http.run_submissions_total",
		metric.WithDescription("Runs accepted over the API by mode and tone."),
		metric.WithUnit("{run}"),
	); err != nil {
		m.warn("finsight.http.run_submissions_total", err)
	}
	return m
}

func (m *HTTPMetrics) warn(name string, err error) {
	m.logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
}

// MetricsMiddleware records one data point per request, labelled with the
// route template rather than the raw path.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", res.Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.bodySize != nil {
				m.bodySize.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// RecordSubmission counts an accepted run.
func (m *HTTPMetrics) RecordSubmission(ctx context.Context, mode orchestrator.Mode, tone report.Tone) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("tone", string(tone)),
	))
}

// routeLabel maps unmatched requests, which have no route, to "/".
func routeLabel(route string) string {
	if route == "" {
		return "/"
	}
	return route
}
