package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8420", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StructuredTTL.Duration())
	assert.Equal(t, 24*time.Hour, cfg.Cache.DocumentTTL.Duration())
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Embedding.RateLimitCooldown.Duration())
	assert.Equal(t, 1000, cfg.Embedding.MetadataTextLimit)
	assert.Equal(t, 800, cfg.Chunking.TargetSize)
	assert.Equal(t, 20, cfg.Chunking.OverlapWords)
	assert.Equal(t, 3, cfg.Orchestrator.VerifyAttempts)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.VerifyInitialDelay.Duration())
	assert.Equal(t, 5, cfg.Sources.MaxDocuments)
	assert.True(t, cfg.Secrets.Enabled)
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	path := writeConfig(t, `
vectorstore:
  provider: qdrant
  qdrant_host: qdrant.internal
embedding:
  batch_size: 25
cache:
  structured_ttl: 90s
`, 0600)

	t.Setenv("KNOWLEDGED_VECTORSTORE_QDRANT_HOST", "override.internal")
	t.Setenv("KNOWLEDGED_ORCHESTRATOR_OPERATION_TIMEOUT", "3m")
	t.Setenv("KNOWLEDGED_SOURCES_MAX_DOWNLOAD_BYTES", "20MiB")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "override.internal", cfg.VectorStore.QdrantHost)
	assert.Equal(t, 25, cfg.Embedding.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.StructuredTTL.Duration())
	assert.Equal(t, 3*time.Minute, cfg.Orchestrator.OperationTimeout.Duration())
	assert.Equal(t, ByteSize(20<<20), cfg.Sources.MaxDownloadBytes)
	// untouched keys keep defaults
	assert.Equal(t, 24*time.Hour, cfg.Cache.DocumentTTL.Duration())
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":1\"\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"bad provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"openai without key", func(c *Config) { c.Embedding.Provider = "openai" }, "embedding.api_key"},
		{"zero verify attempts", func(c *Config) { c.Orchestrator.VerifyAttempts = 0 }, "verify_attempts"},
		{"sample rate", func(c *Config) { c.Observability.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-123", s.Value())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestByteSize_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"4096", 4096},
		{"512KiB", 512 << 10},
		{"5MiB", 5 << 20},
		{"5 mb", 5 << 20},
		{"1GiB", 1 << 30},
		{"12b", 12},
	}
	for _, tt := range tests {
		var b ByteSize
		require.NoError(t, b.UnmarshalText([]byte(tt.in)), tt.in)
		assert.Equal(t, tt.want, b, tt.in)
	}

	var b ByteSize
	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Error(t, b.UnmarshalText([]byte("-1MiB")))

	assert.Equal(t, "5MiB", ByteSize(5<<20).String())
	assert.Equal(t, "1500", ByteSize(1500).String())
}
