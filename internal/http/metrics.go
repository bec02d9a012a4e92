package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/knowledged/internal/http"

// operationStateKey is the echo.Context key handlers use to report the
// state an index-changing operation finished in.
const operationStateKey = "knowledged.operation_state"

// HTTPMetrics holds the API's OTEL instruments.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	outcomes       metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"knowledged.http.requests_total",
		metric.WithDescription("HTTP requests by method, route pattern and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	// Setup and resync run the whole pipeline in the request, so the
	// buckets reach into minutes.
	m.requestDur, err = m.meter.Float64Histogram(
		"knowledged.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route pattern and status code"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.outcomes, err = m.meter.Int64Counter(
		"knowledged.http.operation_outcomes_total",
		metric.WithDescription("Index-changing operations by route pattern and final state (VERIFIED, DEGRADED, ROLLED_BACK, OFFBOARDED)"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create outcomes counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"knowledged.http.active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			// An error bubbling up has not been written yet; its status is
			// what the error handler will send.
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			endpoint := normalizePath(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", endpoint),
				attribute.Int("status", status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if state, ok := c.Get(operationStateKey).(orchestrator.State); ok && m.outcomes != nil {
				m.outcomes.Add(ctx, 1, metric.WithAttributes(
					attribute.String("endpoint", endpoint),
					attribute.String("state", string(state)),
				))
			}
			return err
		}
	}
}

// normalizePath returns the route pattern. Echo reports patterns such as
// /api/v1/tenants/:id, so tenant ids never become label values. Unmatched
// requests have an empty path.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
