package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/events"
	"github.com/fyrsmithlabs/knowledged/internal/indexing"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/secrets"
	"github.com/fyrsmithlabs/knowledged/internal/sources"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/telemetry"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// app holds every long-lived dependency of the daemon.
type app struct {
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *store.SQLite
	vectors   vectorstore.Store
	embedder  embeddings.Provider
	cache     cache.Cache
	publisher events.Publisher
	scrubber  secrets.Scrubber
	multi     *sources.MultiSourceAdapter
	orch      *orchestrator.Orchestrator

	closers []func() error
}

// build constructs the dependency graph from cfg. Anything opened before
// a failure is closed again.
func build(ctx context.Context, cfg *config.Config, logSink io.Writer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Observability.Enabled
	if cfg.Observability.Endpoint != "" {
		tcfg.Endpoint = cfg.Observability.Endpoint
	}
	tcfg.Protocol = cfg.Observability.Protocol
	tcfg.Insecure = cfg.Observability.Insecure
	tcfg.ServiceName = cfg.Observability.ServiceName
	tcfg.ServiceVersion = version
	tcfg.SampleRate = cfg.Observability.SampleRate
	a.telemetry, err = telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	lcfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OTEL)
	if err != nil {
		return nil, err
	}
	lcfg.Sink = logSink
	// No OTLP log exporter is wired; the OTEL output stays off.
	a.logger, err = logging.NewLogger(lcfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	a.store, err = store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.embedder, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey.Value(),
		Dimension: cfg.Embedding.Dimension,
		CacheDir:  cfg.Embedding.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.vectors, err = vectorstore.NewStore(ctx, cfg.VectorStore, a.embedder.Dimension(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	a.closers = append(a.closers, a.vectors.Close)

	a.cache, err = cache.New(cfg.Cache.Backend, cfg.Cache.Path, cache.TTLs{
		Structured: cfg.Cache.StructuredTTL.Duration(),
		Document:   cfg.Cache.DocumentTTL.Duration(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	a.closers = append(a.closers, a.cache.Close)

	scfg := secrets.DefaultConfig()
	scfg.Enabled = cfg.Secrets.Enabled
	scfg.AllowlistFile = cfg.Secrets.AllowlistFile
	a.scrubber, err = secrets.New(scfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}

	a.publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	adapters, err := a.buildAdapters(ctx, cfg.Sources)
	if err != nil {
		return nil, err
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		OperationTimeout:   cfg.Orchestrator.OperationTimeout.Duration(),
		RollbackTimeout:    cfg.Orchestrator.RollbackTimeout.Duration(),
		VerifyAttempts:     cfg.Orchestrator.VerifyAttempts,
		VerifyInitialDelay: cfg.Orchestrator.VerifyInitialDelay.Duration(),
		ChunkTargetSize:    cfg.Chunking.TargetSize,
		ChunkOverlapWords:  cfg.Chunking.OverlapWords,
	}, orchestrator.Deps{
		Store:    a.store,
		Vectors:  a.vectors,
		Embedder: a.embedder,
		Pipeline: indexing.PipelineConfig{
			BatchSize:           cfg.Embedding.BatchSize,
			RateLimitCooldown:   cfg.Embedding.RateLimitCooldown.Duration(),
			MaxRateLimitRetries: cfg.Embedding.MaxRateLimitRetries,
			InterBatchDelay:     cfg.Embedding.InterBatchDelay.Duration(),
			TextLimit:           cfg.Embedding.MetadataTextLimit,
		},
		UpsertBatch: cfg.VectorStore.UpsertBatch,
		Adapters:    adapters,
		Scrubber:    a.scrubber,
		Cache:       a.cache,
		Publisher:   a.publisher,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return a, nil
}

// buildAdapters loads the static tenant directory and, when credentials
// are configured, the Google spreadsheet and document adapters. Without
// credentials every tenant falls back to its static data.
func (a *app) buildAdapters(ctx context.Context, cfg config.SourcesConfig) (sources.Adapters, error) {
	dir, err := tenant.NewDirectory(cfg.StaticDir, a.logger)
	if err != nil {
		return sources.Adapters{}, fmt.Errorf("failed to load static tenants: %w", err)
	}
	if err := dir.Watch(ctx); err != nil {
		a.logger.Warn(ctx, "static tenant directory not watched", zap.Error(err))
	}
	adapters := sources.Adapters{Static: sources.NewStaticAdapter(dir)}

	if cfg.CredentialsFile == "" {
		a.logger.Info(ctx, "no source credentials configured, using static tenant data only")
		return adapters, nil
	}

	ts, err := sources.TokenSourceFromFile(ctx, cfg.CredentialsFile)
	if err != nil {
		return sources.Adapters{}, err
	}
	limiter := sources.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)

	sheets, err := sources.NewGoogleSheets(ctx, limiter, option.WithTokenSource(ts))
	if err != nil {
		return sources.Adapters{}, fmt.Errorf("failed to create sheets client: %w", err)
	}
	drive, err := sources.NewGoogleDrive(ctx, limiter, option.WithTokenSource(ts))
	if err != nil {
		return sources.Adapters{}, fmt.Errorf("failed to create drive client: %w", err)
	}

	adapters.Tabular = sources.NewTabularAdapter(sheets, a.cache, a.logger)
	adapters.MultiSource, err = sources.NewMultiSourceAdapter(
		adapters.Tabular,
		drive,
		tenant.NewGuard(dir, a.logger),
		sources.ExecRunner{},
		a.cache,
		sources.MultiSourceOptions{
			MaxDocuments:     cfg.MaxDocuments,
			MaxDownloadBytes: int64(cfg.MaxDownloadBytes),
			Workers:          cfg.ExtractWorkers,
			PDFToTextPath:    cfg.PDFToTextPath,
		},
		a.logger,
	)
	if err != nil {
		return sources.Adapters{}, err
	}
	a.multi = adapters.MultiSource
	a.closers = append(a.closers, func() error {
		a.multi.Close()
		return nil
	})
	return adapters, nil
}

// Close releases dependencies in reverse order and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "errors during shutdown", zap.Error(err))
	}
}
