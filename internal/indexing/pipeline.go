package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// ErrVectorCount means the provider returned a different number of
// vectors than texts it was given.
var ErrVectorCount = errors.New("embedding vector count mismatch")

// Embedder is the part of embeddings.Provider the pipeline needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PipelineConfig bounds batching and backoff.
type PipelineConfig struct {
	BatchSize           int
	RateLimitCooldown   time.Duration
	MaxRateLimitRetries int
	InterBatchDelay     time.Duration
	TextLimit           int
}

// DefaultPipelineConfig returns batches of 10, a 60s cooldown retried 3
// times, a 1s pause between batches and a 1000 rune text payload.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:           10,
		RateLimitCooldown:   60 * time.Second,
		MaxRateLimitRetries: 3,
		InterBatchDelay:     time.Second,
		TextLimit:           1000,
	}
}

// Stats summarizes one EmbedAndStage run.
type Stats struct {
	Chunks        int      `json:"chunks"`
	Batches       int      `json:"batches"`
	Vectors       int      `json:"vectors"`
	FailedBatches int      `json:"failed_batches"`
	RateLimited   int      `json:"rate_limited"`
	Exhausted     bool     `json:"exhausted"`
	SkippedIDs    []string `json:"skipped_ids,omitempty"`
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.Chunks += o.Chunks
	s.Batches += o.Batches
	s.Vectors += o.Vectors
	s.FailedBatches += o.FailedBatches
	s.RateLimited += o.RateLimited
	s.Exhausted = s.Exhausted || o.Exhausted
	s.SkippedIDs = append(s.SkippedIDs, o.SkippedIDs...)
}

// Partial reports whether some chunks were not embedded.
func (s Stats) Partial() bool {
	return s.FailedBatches > 0 || s.Exhausted
}

// BatchPipeline embeds chunks into vector records.
type BatchPipeline struct {
	embedder Embedder
	cfg      PipelineConfig
	sleep    SleepFunc
	logger   *logging.Logger
}

// NewBatchPipeline creates a pipeline. Zero fields in cfg take defaults.
func NewBatchPipeline(embedder Embedder, cfg PipelineConfig, logger *logging.Logger) *BatchPipeline {
	def := DefaultPipelineConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = def.RateLimitCooldown
	}
	if cfg.MaxRateLimitRetries < 0 {
		cfg.MaxRateLimitRetries = 0
	}
	if cfg.TextLimit < 1 {
		cfg.TextLimit = def.TextLimit
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BatchPipeline{embedder: embedder, cfg: cfg, sleep: Sleep, logger: logger.Named("pipeline")}
}

// WithSleep replaces the wait used for cooldowns and pacing.
func (p *BatchPipeline) WithSleep(fn SleepFunc) *BatchPipeline {
	p.sleep = fn
	return p
}

// EmbedAndStage embeds chunks batch by batch and returns records in chunk
// order. Failed batches are skipped and counted; only context
// cancellation aborts the run.
func (p *BatchPipeline) EmbedAndStage(ctx context.Context, chunks []chunking.Chunk) ([]vectorstore.Record, Stats, error) {
	stats := Stats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return nil, stats, nil
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	size := p.cfg.BatchSize
	stats.Batches = (len(chunks) + size - 1) / size

	for b := 0; b < stats.Batches; b++ {
		start := b * size
		end := min(start+size, len(chunks))
		batch := chunks[start:end]

		vectors, err := p.embedBatch(ctx, b, batch, &stats)
		if err != nil {
			return nil, stats, err
		}
		if vectors == nil {
			stats.FailedBatches++
			stats.SkippedIDs = append(stats.SkippedIDs, chunking.IDs(batch)...)
		} else {
			for i, c := range batch {
				records = append(records, p.record(c, vectors[i]))
			}
		}

		if b < stats.Batches-1 && p.cfg.InterBatchDelay > 0 {
			if err := p.sleep(ctx, p.cfg.InterBatchDelay); err != nil {
				return nil, stats, err
			}
		}
	}

	stats.Vectors = len(records)
	p.logger.Info(ctx, "chunks embedded",
		zap.Int("chunks", stats.Chunks),
		zap.Int("vectors", stats.Vectors),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Bool("exhausted", stats.Exhausted))
	return records, stats, nil
}

// embedBatch returns nil vectors when the batch is skipped and an error
// only when ctx ended.
func (p *BatchPipeline) embedBatch(ctx context.Context, index int, batch []chunking.Chunk, stats *Stats) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	for attempt := 0; ; attempt++ {
		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("%w: got %d for %d texts", ErrVectorCount, len(vectors), len(texts))
		}
		if err == nil {
			return vectors, nil
		}

		if !errors.Is(err, embeddings.ErrRateLimited) {
			p.logger.Error(ctx, "embedding batch skipped", zap.Int("batch", index), zap.Error(err))
			return nil, nil
		}

		stats.RateLimited++
		if attempt >= p.cfg.MaxRateLimitRetries {
			stats.Exhausted = true
			p.logger.Warn(ctx, "embedding rate limit retries exhausted",
				zap.Int("batch", index), zap.Int("retries", attempt))
			return nil, nil
		}
		p.logger.Warn(ctx, "embedding rate limited, cooling down",
			zap.Int("batch", index), zap.Int("attempt", attempt+1),
			zap.Duration("cooldown", p.cfg.RateLimitCooldown))
		if err := p.sleep(ctx, p.cfg.RateLimitCooldown); err != nil {
			return nil, err
		}
	}
}

func (p *BatchPipeline) record(c chunking.Chunk, vector []float32) vectorstore.Record {
	meta := make(map[string]string, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[chunking.MetaText] = truncateRunes(c.Text, p.cfg.TextLimit)
	if c.Section != "" {
		meta[chunking.MetaSection] = string(c.Section)
	}
	return vectorstore.Record{ID: c.ID, Vector: vector, Metadata: meta}
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
