package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/events"
	"github.com/fyrsmithlabs/knowledged/internal/indexing"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/secrets"
	"github.com/fyrsmithlabs/knowledged/internal/sources"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

var tracer = otel.Tracer("knowledged/orchestrator")

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("empty query")

// verificationQuery is embedded for the post-write probe. Any text works;
// the probe only checks that the namespace answers.
const verificationQuery = "services and business hours"

// MetadataStore is the relational store operations read from and journal
// to.
type MetadataStore interface {
	indexing.Registry
	WriteSnapshot(ctx context.Context, snap tenant.Snapshot) error
	Snapshot(ctx context.Context, tenantID string) (*tenant.Snapshot, error)
	DeleteTenant(ctx context.Context, tenantID string) error
	Sections(ctx context.Context, tenantID string) (map[tenant.Section][]string, error)
	AppendOperation(ctx context.Context, op store.Operation) error
	LastOperation(ctx context.Context, tenantID string) (*store.Operation, error)
}

// Embedder embeds both chunk batches and search queries.
type Embedder interface {
	indexing.Embedder
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config bounds operation timing and chunking.
type Config struct {
	OperationTimeout   time.Duration
	RollbackTimeout    time.Duration
	VerifyAttempts     int
	VerifyInitialDelay time.Duration
	ChunkTargetSize    int
	ChunkOverlapWords  int
}

// DefaultConfig returns a 10m operation deadline, 2m for rollback, three
// verification probes starting at 2s, and 800 character chunks with 20
// words of overlap.
func DefaultConfig() Config {
	return Config{
		OperationTimeout:   10 * time.Minute,
		RollbackTimeout:    2 * time.Minute,
		VerifyAttempts:     3,
		VerifyInitialDelay: 2 * time.Second,
		ChunkTargetSize:    800,
		ChunkOverlapWords:  20,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	if c.RollbackTimeout <= 0 {
		c.RollbackTimeout = def.RollbackTimeout
	}
	if c.VerifyAttempts < 1 {
		c.VerifyAttempts = def.VerifyAttempts
	}
	if c.VerifyInitialDelay <= 0 {
		c.VerifyInitialDelay = def.VerifyInitialDelay
	}
	if c.ChunkTargetSize < 1 {
		c.ChunkTargetSize = def.ChunkTargetSize
	}
	if c.ChunkOverlapWords < 0 {
		c.ChunkOverlapWords = def.ChunkOverlapWords
	}
}

// Deps are the collaborators an Orchestrator drives. Store, Vectors and
// Embedder are required; the rest default to no-ops.
type Deps struct {
	Store       MetadataStore
	Vectors     vectorstore.Store
	Embedder    Embedder
	Pipeline    indexing.PipelineConfig
	UpsertBatch int
	Adapters    sources.Adapters
	Scrubber    secrets.Scrubber
	Cache       cache.Cache
	Publisher   events.Publisher
	Logger      *logging.Logger
}

// Orchestrator runs tenant operations.
type Orchestrator struct {
	cfg       Config
	store     MetadataStore
	sync      *indexing.Synchronizer
	pipeline  *indexing.BatchPipeline
	embedder  Embedder
	synth     *chunking.Synthesizer
	adapters  sources.Adapters
	scrubber  secrets.Scrubber
	cache     cache.Cache
	publisher events.Publisher
	locks     *lockset
	sleep     indexing.SleepFunc
	now       func() time.Time
	logger    *logging.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Vectors == nil || deps.Embedder == nil {
		return nil, errors.New("orchestrator requires a metadata store, a vector store and an embedder")
	}
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.Nop{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	logger := deps.Logger.Named("orchestrator")
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		sync:      indexing.NewSynchronizer(deps.Vectors, deps.Store, deps.UpsertBatch, deps.Logger),
		pipeline:  indexing.NewBatchPipeline(deps.Embedder, deps.Pipeline, deps.Logger),
		embedder:  deps.Embedder,
		synth:     chunking.NewSynthesizer(cfg.ChunkTargetSize, cfg.ChunkOverlapWords),
		adapters:  deps.Adapters,
		scrubber:  deps.Scrubber,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		locks:     newLockset(),
		sleep:     indexing.Sleep,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// WithSleep replaces every wait, including embedding cooldowns.
func (o *Orchestrator) WithSleep(fn indexing.SleepFunc) *Orchestrator {
	o.sleep = fn
	o.pipeline.WithSleep(fn)
	return o
}

// Setup writes the tenant's rows, rebuilds its index from them, indexes
// live sources and verifies the result. Any failure before verification
// restores the state that existed before the call.
func (o *Orchestrator) Setup(ctx context.Context, in SetupInput) (*Result, error) {
	snap := in.Snapshot
	id := snap.Config.ID
	ctx, op, err := o.begin(ctx, id, KindSetup)
	if err != nil {
		return nil, err
	}
	defer o.end(op)
	res := op.res

	prior, err := o.store.Snapshot(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		prior = nil
	case err != nil:
		return res, fmt.Errorf("reading existing tenant %s: %w", id, err)
	}

	o.transition(ctx, res, StatePending, "")
	snap = o.fillFromStatic(ctx, snap)
	snap.Services = tenant.NormalizeServices(snap.Services)

	err = o.setup(ctx, res, snap)
	if err != nil {
		return o.fail(ctx, op, err, func(rctx context.Context) error {
			errs := []error{
				o.sync.Drop(rctx, id),
				o.store.DeleteTenant(rctx, id),
			}
			if prior != nil {
				errs = append(errs, o.restore(rctx, *prior))
			}
			return errors.Join(errs...)
		})
	}
	o.verify(ctx, res)
	return res, nil
}

func (o *Orchestrator) setup(ctx context.Context, res *Result, snap tenant.Snapshot) error {
	if err := o.store.WriteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("writing tenant metadata: %w", err)
	}
	o.transition(ctx, res, StateMetadataWritten, fmt.Sprintf("%d services", len(snap.Services)))

	stored, err := o.store.Snapshot(ctx, snap.Config.ID)
	if err != nil {
		return fmt.Errorf("reading tenant metadata back: %w", err)
	}
	return o.rebuild(ctx, res, *stored, true, o.stepper(ctx, res))
}

// UpdateAgentConfig re-indexes the config section from stored rows. The
// caller has already saved the rows.
func (o *Orchestrator) UpdateAgentConfig(ctx context.Context, tenantID string) (*Result, error) {
	return o.updateSection(ctx, tenantID, KindUpdateConfig, tenant.SectionConfig)
}

// UpdateServicesConfig re-indexes the services section from stored rows.
func (o *Orchestrator) UpdateServicesConfig(ctx context.Context, tenantID string) (*Result, error) {
	return o.updateSection(ctx, tenantID, KindUpdateServices, tenant.SectionServices)
}

func (o *Orchestrator) updateSection(ctx context.Context, id string, kind Kind, section tenant.Section) (*Result, error) {
	ctx, op, err := o.begin(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	defer o.end(op)
	res := op.res

	snap, err := o.store.Snapshot(ctx, id)
	if err != nil {
		return res, err
	}
	o.transition(ctx, res, StatePending, string(section))

	chunks := o.synth.Section(*snap, section)
	derived := chunking.IDs(chunks)
	records, stats, err := o.pipeline.EmbedAndStage(ctx, chunks)
	res.Stats.Add(stats)
	written := false
	if err == nil {
		written = true
		err = o.sync.ReplaceSection(ctx, id, section, derived, records)
	}
	if err != nil {
		return o.fail(ctx, op, err, func(rctx context.Context) error {
			// Nothing was written; the section still holds its last index.
			if !written {
				return nil
			}
			return o.sync.DeleteSection(rctx, id, section, derived)
		})
	}
	o.transition(ctx, res, StateIndexRebuilt, fmt.Sprintf("%s: %d vectors", section, len(records)))
	o.verify(ctx, res)
	return res, nil
}

// Resync rebuilds the whole index from stored rows and live sources.
// Source failures are warnings here; the structured index is still
// rebuilt.
func (o *Orchestrator) Resync(ctx context.Context, tenantID string) (*Result, error) {
	ctx, op, err := o.begin(ctx, tenantID, KindResync)
	if err != nil {
		return nil, err
	}
	defer o.end(op)
	res := op.res

	snap, err := o.store.Snapshot(ctx, tenantID)
	if err != nil {
		return res, err
	}
	o.transition(ctx, res, StatePending, "")
	if o.cache != nil {
		if err := o.cache.InvalidateTenant(ctx, tenantID); err != nil {
			o.logger.Warn(ctx, "cache invalidation failed", zap.Error(err))
		}
	}

	if err := o.rebuild(ctx, res, *snap, false, o.stepper(ctx, res)); err != nil {
		return o.fail(ctx, op, err, func(rctx context.Context) error {
			return o.rebuild(rctx, &Result{TenantID: tenantID}, *snap, false, nil)
		})
	}
	o.verify(ctx, res)
	return res, nil
}

// Offboard deletes the tenant's rows, namespace and cached source data.
// Offboarding an unknown tenant succeeds.
func (o *Orchestrator) Offboard(ctx context.Context, tenantID string) (*Result, error) {
	ctx, op, err := o.begin(ctx, tenantID, KindOffboard)
	if err != nil {
		return nil, err
	}
	defer o.end(op)
	res := op.res
	o.transition(ctx, res, StatePending, "")

	errs := []error{
		o.sync.Drop(ctx, tenantID),
		o.store.DeleteTenant(ctx, tenantID),
	}
	if o.cache != nil {
		errs = append(errs, o.cache.InvalidateTenant(ctx, tenantID))
	}
	if err := errors.Join(errs...); err != nil {
		o.logger.Error(ctx, "offboard incomplete", zap.Error(err))
		return res, fmt.Errorf("offboarding %s: %w", tenantID, err)
	}
	o.transition(ctx, res, StateOffboarded, "")
	return res, nil
}

// Status reports the tenant's stored and indexed state. It does not wait
// for a running operation.
func (o *Orchestrator) Status(ctx context.Context, tenantID string) (*Status, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	st := &Status{TenantID: tenantID, Namespace: tenant.Namespace(tenantID)}

	_, err := o.store.Snapshot(ctx, tenantID)
	switch {
	case err == nil:
		st.Exists = true
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	info, err := o.sync.Describe(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("describing namespace: %w", err)
	}
	st.VectorCount = info.VectorCount

	last, err := o.store.LastOperation(ctx, tenantID)
	switch {
	case err == nil:
		st.LastOperation = &Transition{
			OperationID: last.OperationID,
			Kind:        Kind(last.Kind),
			State:       State(last.State),
			Detail:      last.Detail,
			At:          last.At,
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if st.Exists {
		if st.Sections, err = o.store.Sections(ctx, tenantID); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Search embeds query and returns the tenant's nearest chunks.
func (o *Orchestrator) Search(ctx context.Context, tenantID, query string, topK int) ([]Match, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	switch {
	case topK < 1:
		topK = 5
	case topK > 50:
		topK = 50
	}

	vec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := o.sync.Query(ctx, tenantID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("querying namespace: %w", err)
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		meta := make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			if k != chunking.MetaText {
				meta[k] = v
			}
		}
		out[i] = Match{
			ID:       h.ID,
			Score:    h.Score,
			Type:     h.Metadata[chunking.MetaType],
			Text:     h.Metadata[chunking.MetaText],
			Metadata: meta,
		}
	}
	return out, nil
}

// rebuild replaces the namespace with snap's structured chunks, then adds
// live source chunks. With strict set a source failure is returned;
// otherwise it becomes a warning and the source vectors indexed last time
// stay in place. step may be nil.
func (o *Orchestrator) rebuild(ctx context.Context, res *Result, snap tenant.Snapshot, strict bool, step func(State, string)) error {
	if step == nil {
		step = func(State, string) {}
	}
	id := snap.Config.ID

	records, stats, err := o.pipeline.EmbedAndStage(ctx, o.synth.Snapshot(snap))
	res.Stats.Add(stats)
	if err != nil {
		return err
	}

	// A lenient fetch runs before the namespace is touched so a failure can
	// leave the indexed source section in place.
	live := snap.Config.Sources.Documents || snap.Config.Sources.Tabular
	var chunks []chunking.Chunk
	fetched := true
	if live && !strict {
		if chunks, fetched, err = o.sourceChunks(ctx, res, snap.Config, false); err != nil {
			return err
		}
	}
	if fetched {
		err = o.sync.FullRebuild(ctx, id, records)
	} else {
		err = o.replaceStructured(ctx, id, records)
	}
	if err != nil {
		return err
	}
	step(StateIndexRebuilt, fmt.Sprintf("%d vectors", len(records)))

	if live && strict {
		if chunks, _, err = o.sourceChunks(ctx, res, snap.Config, true); err != nil {
			return err
		}
	}

	if len(chunks) == 0 {
		return nil
	}
	records, stats, err = o.pipeline.EmbedAndStage(ctx, chunks)
	res.Stats.Add(stats)
	if err != nil {
		return err
	}
	if err := o.sync.UpsertAdditive(ctx, id, records); err != nil {
		return err
	}
	if snap.Config.Sources.Documents {
		step(StateDocumentsIndexed, fmt.Sprintf("%d vectors", len(records)))
	}
	return nil
}

// replaceStructured rewrites the config and services sections and leaves
// the sources section as it was.
func (o *Orchestrator) replaceStructured(ctx context.Context, id string, records []vectorstore.Record) error {
	bySection := make(map[tenant.Section][]vectorstore.Record)
	for _, r := range records {
		section := tenant.Section(r.Metadata[chunking.MetaSection])
		bySection[section] = append(bySection[section], r)
	}
	for _, section := range []tenant.Section{tenant.SectionConfig, tenant.SectionServices} {
		if err := o.sync.ReplaceSection(ctx, id, section, nil, bySection[section]); err != nil {
			return err
		}
	}
	return nil
}

// sourceChunks fetches the tenant's live data and chunks it. Document
// text is scrubbed before it is split. fetched is false when a non-strict
// fetch failed and the caller should keep the indexed source vectors.
func (o *Orchestrator) sourceChunks(ctx context.Context, res *Result, cfg tenant.Config, strict bool) (chunks []chunking.Chunk, fetched bool, err error) {
	adapter := sources.Select(cfg, o.adapters)
	data, err := adapter.FetchBusinessData(ctx, cfg)
	if err != nil {
		if strict || ctx.Err() != nil {
			return nil, false, fmt.Errorf("fetching %s data: %w", adapter.Strategy(), err)
		}
		o.logger.Warn(ctx, "source fetch failed, keeping indexed source data",
			zap.String("strategy", string(adapter.Strategy())), zap.Error(err))
		res.warn(fmt.Sprintf("%s source unavailable, kept last indexed source data: %v", adapter.Strategy(), err))
		return nil, false, nil
	}

	chunks = o.synth.Records(cfg.ID, data.Records)
	redacted := 0
	for _, doc := range data.SortedDocuments() {
		scrubbed := o.scrubber.Scrub(ctx, doc.Content)
		redacted += len(scrubbed.Findings)
		doc.Content = scrubbed.Text
		chunks = append(chunks, o.synth.Document(cfg.ID, doc)...)
	}
	if redacted > 0 {
		res.warn(fmt.Sprintf("%d secrets redacted from documents", redacted))
	}
	o.logger.Info(ctx, "source data chunked",
		zap.String("strategy", string(adapter.Strategy())),
		zap.Int("records", len(data.Records)),
		zap.Int("documents", len(data.Documents)),
		zap.Int("chunks", len(chunks)))
	return chunks, true, nil
}

// restore rewrites a prior snapshot and rebuilds its index.
func (o *Orchestrator) restore(ctx context.Context, prior tenant.Snapshot) error {
	if err := o.store.WriteSnapshot(ctx, prior); err != nil {
		return fmt.Errorf("restoring prior metadata: %w", err)
	}
	if err := o.rebuild(ctx, &Result{TenantID: prior.Config.ID}, prior, false, nil); err != nil {
		return fmt.Errorf("rebuilding prior index: %w", err)
	}
	return nil
}

// fillFromStatic fills an omitted profile or service list from the
// tenant's static file.
func (o *Orchestrator) fillFromStatic(ctx context.Context, snap tenant.Snapshot) tenant.Snapshot {
	emptyProfile := snap.Profile == (tenant.Profile{})
	if o.adapters.Static == nil || (!emptyProfile && len(snap.Services) > 0) {
		return snap
	}
	data, err := o.adapters.Static.FetchBusinessData(ctx, snap.Config)
	if err != nil || data.Static == nil {
		return snap
	}
	if emptyProfile {
		snap.Profile = data.Static.Profile
	}
	if len(snap.Services) == 0 {
		snap.Services = data.Static.Services
	}
	return snap
}

// operation is the bookkeeping for one running call.
type operation struct {
	res    *Result
	start  time.Time
	span   trace.Span
	cancel context.CancelFunc
	unlock func()
}

// begin validates the tenant, takes its lock and applies the operation
// deadline.
func (o *Orchestrator) begin(ctx context.Context, tenantID string, kind Kind) (context.Context, *operation, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return ctx, nil, err
	}
	unlock, err := o.locks.acquire(ctx, tenantID)
	if err != nil {
		return ctx, nil, fmt.Errorf("waiting for tenant %s: %w", tenantID, err)
	}

	op := &operation{
		res: &Result{
			OperationID: ulid.Make().String(),
			TenantID:    tenantID,
			Kind:        kind,
		},
		start:  o.now(),
		unlock: unlock,
	}
	ctx, op.cancel = context.WithTimeout(ctx, o.cfg.OperationTimeout)
	ctx = logging.WithTenantID(ctx, tenantID)
	ctx = logging.WithOperationID(ctx, op.res.OperationID)
	ctx, op.span = tracer.Start(ctx, "orchestrator."+string(kind), trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("operation.id", op.res.OperationID),
	))
	return ctx, op, nil
}

func (o *Orchestrator) end(op *operation) {
	op.res.Duration = o.now().Sub(op.start)
	if op.res.State.Terminal() {
		observeOperation(op.res, op.start)
	}
	op.span.SetAttributes(attribute.String("operation.state", string(op.res.State)))
	op.span.End()
	op.cancel()
	op.unlock()
}

// fail runs undo under a fresh context, so caller cancellation cannot
// stop it, and reports ROLLED_BACK.
func (o *Orchestrator) fail(ctx context.Context, op *operation, cause error, undo func(context.Context) error) (*Result, error) {
	res := op.res
	op.span.RecordError(cause)
	op.span.SetStatus(codes.Error, cause.Error())
	o.logger.Error(ctx, "operation failed, rolling back",
		zap.String("kind", string(res.Kind)),
		zap.String("state", string(res.State)),
		zap.Error(cause))

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RollbackTimeout)
	defer cancel()

	outcome := "clean"
	if err := undo(rctx); err != nil {
		outcome = "incomplete"
		o.logger.Error(rctx, "rollback incomplete", zap.Error(err))
		res.warn("rollback incomplete: " + err.Error())
	}
	rollbacksTotal.WithLabelValues(string(res.Kind), outcome).Inc()
	o.transition(rctx, res, StateRolledBack, cause.Error())
	return res, fmt.Errorf("%s %s: %w", res.Kind, res.TenantID, cause)
}

func (o *Orchestrator) stepper(ctx context.Context, res *Result) func(State, string) {
	return func(s State, detail string) { o.transition(ctx, res, s, detail) }
}

// transition records a state change. Journal and publish failures are
// logged and never fail the operation.
func (o *Orchestrator) transition(ctx context.Context, res *Result, state State, detail string) {
	res.State = state
	at := o.now().UTC()
	trace.SpanFromContext(ctx).AddEvent(string(state))
	o.logger.Info(ctx, "operation transition",
		zap.String("kind", string(res.Kind)),
		zap.String("state", string(state)),
		zap.String("detail", detail))

	err := o.store.AppendOperation(ctx, store.Operation{
		OperationID: res.OperationID,
		TenantID:    res.TenantID,
		Kind:        string(res.Kind),
		State:       string(state),
		Detail:      detail,
		At:          at,
	})
	if err != nil {
		o.logger.Warn(ctx, "journal write failed", zap.Error(err))
	}
	err = o.publisher.Publish(ctx, events.Transition{
		OperationID: res.OperationID,
		TenantID:    res.TenantID,
		Kind:        string(res.Kind),
		State:       string(state),
		Detail:      detail,
		At:          at,
	})
	if err != nil {
		o.logger.Warn(ctx, "transition publish failed", zap.Error(err))
	}
}
