package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

func testMetrics(t *testing.T) (*Metrics, func() map[string]metricdata.Aggregation) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), logging.NewNop())

	collect := func() map[string]metricdata.Aggregation {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		out := map[string]metricdata.Aggregation{}
		for _, sm := range rm.ScopeMetrics {
			for _, md := range sm.Metrics {
				out[md.Name] = md.Data
			}
		}
		return out
	}
	return m, collect
}

// sumByTool totals an int64 sum per tool attribute.
func sumByTool(t *testing.T, data metricdata.Aggregation) map[string]int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", data)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		tool, _ := dp.Attributes.Value("tool")
		out[tool.AsString()] += dp.Value
	}
	return out
}

func TestMetrics_Begin(t *testing.T) {
	m, collect := testMetrics(t)
	ctx := context.Background()

	m.Begin(ctx, toolKnowledgeSearch)(nil)
	m.Begin(ctx, toolKnowledgeSearch)(fmt.Errorf("knowledge search failed: %w", embeddings.ErrRateLimited))
	m.Begin(ctx, toolIndexStatus)(nil)

	got := collect()
	assert.Equal(t, map[string]int64{toolKnowledgeSearch: 2, toolIndexStatus: 1},
		sumByTool(t, got["knowledged.mcp.tool.invocations_total"]))

	failures, ok := got["knowledged.mcp.tool.errors_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	reason, _ := failures.DataPoints[0].Attributes.Value("reason")
	assert.Equal(t, "rate_limited", reason.AsString())

	latency, ok := got["knowledged.mcp.tool.duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var calls uint64
	for _, dp := range latency.DataPoints {
		calls += dp.Count
	}
	assert.Equal(t, uint64(3), calls)

	// Every finished call left the in-flight gauge.
	assert.Equal(t, int64(0), sumByTool(t, got["knowledged.mcp.tool.active_requests"])[toolKnowledgeSearch])
}

func TestMetrics_InFlight(t *testing.T) {
	m, collect := testMetrics(t)
	ctx := context.Background()

	first := m.Begin(ctx, toolIndexStatus)
	m.Begin(ctx, toolIndexStatus)
	first(nil)

	assert.Equal(t, int64(1), sumByTool(t, collect()["knowledged.mcp.tool.active_requests"])[toolIndexStatus])
}

func TestMetrics_RecordMatches(t *testing.T) {
	m, collect := testMetrics(t)
	ctx := context.Background()

	m.RecordMatches(ctx, 0)
	m.RecordMatches(ctx, 5)

	hist, ok := collect()["knowledged.mcp.search.matches"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(5), hist.DataPoints[0].Sum)
}

func TestMetrics_NilInstrumentsAreSkipped(t *testing.T) {
	m := &Metrics{logger: logging.NewNop()}
	assert.NotPanics(t, func() {
		m.Begin(context.Background(), toolKnowledgeSearch)(errors.New("boom"))
		m.RecordMatches(context.Background(), 3)
	})
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("invalid tenant_id: %w", sanitize.ErrInvalidTenantID), "validation_error"},
		{orchestrator.ErrEmptyQuery, "validation_error"},
		{fmt.Errorf("tenant ghost: %w", store.ErrNotFound), "not_found"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("batch 2: %w", embeddings.ErrRateLimited), "rate_limited"},
		{vectorstore.ErrConnectionFailed, "storage_error"},
		{vectorstore.ErrCircuitOpen, "storage_error"},
		{errors.New("something went wrong"), "internal_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
