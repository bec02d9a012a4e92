package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://tei:8080", Model: "BAAI/bge-base-en-v1.5"})
	require.NoError(t, err)
	assert.IsType(t, &TEIProvider{}, p)
	assert.Equal(t, 768, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 512})
	require.NoError(t, err)
	assert.Equal(t, 512, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimensionFromModel(t *testing.T) {
	assert.Equal(t, 384, detectDimensionFromModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 3072, detectDimensionFromModel("text-embedding-3-large"))
	assert.Equal(t, 1024, detectDimensionFromModel("intfloat/e5-large"))
	assert.Equal(t, 768, detectDimensionFromModel("nomic-embed-base"))
	assert.Equal(t, 384, detectDimensionFromModel("mystery"))
}

func TestMetrics_RecordGeneration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m := NewMetrics(nil)
	ctx := context.Background()
	m.RecordGeneration(ctx, "m", "embed_documents", 10*time.Millisecond, 10, nil)
	m.RecordGeneration(ctx, "m", "embed_documents", time.Millisecond, 10, ErrRateLimited)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			seen[md.Name] = true
			if md.Name == "knowledged.embedding.rate_limited_total" {
				sum := md.Data.(metricdata.Sum[int64])
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, seen["knowledged.embedding.duration_seconds"])
	assert.True(t, seen["knowledged.embedding.batch_size"])
	assert.True(t, seen["knowledged.embedding.errors_total"])
	assert.True(t, seen["knowledged.embedding.rate_limited_total"])

	var nilMetrics *Metrics
	nilMetrics.RecordGeneration(ctx, "m", "x", 0, 0, nil)
}
