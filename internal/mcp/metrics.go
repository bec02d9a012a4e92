package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/knowledged/internal/mcp"

// Metrics holds the tool call instruments. A nil instrument is skipped.
type Metrics struct {
	meter    metric.Meter
	logger   *logging.Logger
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inflight metric.Int64UpDownCounter
	matches  metric.Int64Histogram
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	m := &Metrics{meter: meter, logger: logger}
	ctx := context.Background()
	warn := func(what string, err error) {
		if err != nil {
			m.logger.Warn(ctx, "failed to create "+what, zap.Error(err))
		}
	}
	var err error

	m.calls, err = meter.Int64Counter("knowledged.mcp.tool.invocations_total",
		metric.WithDescription("Tool calls by tool name"),
		metric.WithUnit("{invocation}"))
	warn("invocations counter", err)

	// Searches embed the query first, so the upper buckets cover a slow
	// embedding provider.
	m.latency, err = meter.Float64Histogram("knowledged.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency by tool name"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	warn("duration histogram", err)

	m.failures, err = meter.Int64Counter("knowledged.mcp.tool.errors_total",
		metric.WithDescription("Failed tool calls by tool name and reason"),
		metric.WithUnit("{error}"))
	warn("errors counter", err)

	m.inflight, err = meter.Int64UpDownCounter("knowledged.mcp.tool.active_requests",
		metric.WithDescription("Tool calls in progress"),
		metric.WithUnit("{request}"))
	warn("active requests gauge", err)

	m.matches, err = meter.Int64Histogram("knowledged.mcp.search.matches",
		metric.WithDescription("Matches returned per knowledge_search call"),
		metric.WithUnit("{match}"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 10, 25, 50))
	warn("matches histogram", err)

	return m
}

// Begin marks a tool call as in flight. The returned func ends it and
// records its outcome; call it exactly once.
func (m *Metrics) Begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err)),
			))
		}
	}
}

// RecordMatches records how many matches a search returned.
func (m *Metrics) RecordMatches(ctx context.Context, n int) {
	if m.matches != nil {
		m.matches.Record(ctx, int64(n))
	}
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sanitize.ErrInvalidTenantID), errors.Is(err, orchestrator.ErrEmptyQuery):
		return "validation_error"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, embeddings.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, vectorstore.ErrConnectionFailed), errors.Is(err, vectorstore.ErrCircuitOpen):
		return "storage_error"
	default:
		return "internal_error"
	}
}
