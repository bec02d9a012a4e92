package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/tenants/:id/resync", func(c echo.Context) error {
		c.Set(operationStateKey, orchestrator.StateDegraded)
		return c.JSON(http.StatusAccepted, map[string]string{"state": "DEGRADED"})
	})
	e.GET("/api/v1/tenants/:id/status", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme-dental/resync", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/tenants/ghost/status", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	got := collect(t, reader)

	requests, ok := got["knowledged.http.requests_total"]
	require.True(t, ok, "requests counter not found")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	statuses := map[string]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		endpoint, _ := dp.Attributes.Value("endpoint")
		status, _ := dp.Attributes.Value("status")
		assert.NotContains(t, endpoint.AsString(), "acme-dental", "tenant id leaked into the endpoint label")
		statuses[endpoint.AsString()] = status.AsInt64()
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(http.StatusAccepted), statuses["/api/v1/tenants/:id/resync"])
	assert.Equal(t, int64(http.StatusNotFound), statuses["/api/v1/tenants/:id/status"])

	duration, ok := got["knowledged.http.request_duration_seconds"]
	require.True(t, ok, "duration histogram not found")
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	outcomes, ok := got["knowledged.http.operation_outcomes_total"]
	require.True(t, ok, "outcomes counter not found")
	osum, ok := outcomes.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, osum.DataPoints, 1)
	state, _ := osum.DataPoints[0].Attributes.Value("state")
	assert.Equal(t, "DEGRADED", state.AsString())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/tenants/:id/status", "/api/v1/tenants/:id/status"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
