package orchestrator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/sources"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

const testDim = 4

func acmeDental() tenant.Snapshot {
	return tenant.Snapshot{
		Config: tenant.Config{ID: "acme-dental", BusinessName: "Acme Dental", Active: true},
		Profile: tenant.Profile{
			BusinessHours:  "Mon-Fri 9am-5pm",
			ContactPhone:   "555-0100",
			ContactEmail:   "front@acme.example",
			GeneralFAQsRaw: "Q: Do you take insurance?\nA: Yes.\nQ: Is parking free?\nA: Yes, behind the building.",
		},
		Services: []tenant.Service{
			{Position: 0, Name: "Cleaning", Description: "Routine cleaning", Pricing: "$120", Duration: "30 min", Active: true},
			{Position: 1, Name: "Consultation", Description: "First visit", Active: true},
			{Position: 2, Name: "Whitening", Pricing: "$300", Active: true},
		},
	}
}

// fakeEmbedder returns deterministic vectors. fail, when set, is consulted
// with the zero-based EmbedDocuments call number.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = vectorFor(text)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

func (e *fakeEmbedder) setFail(fn func(call int) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = 0
	e.fail = fn
}

func vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	for i, r := range text {
		v[i%testDim] += float32(r % 7)
	}
	v[0]++
	return v
}

// sleepRecorder records waits without sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// emptyDescribe reports an empty namespace regardless of content.
type emptyDescribe struct {
	vectorstore.Store
}

func (emptyDescribe) Describe(_ context.Context, ns string) (vectorstore.Info, error) {
	return vectorstore.Info{Namespace: ns}, nil
}

type downSheets struct{}

func (downSheets) Ping(context.Context, string) error {
	return errors.New("403 caller does not have permission")
}

func (downSheets) ReadRange(context.Context, string, string) ([][]string, error) {
	return nil, nil
}

// rowSheets serves fixed rows per range.
type rowSheets map[string][][]string

func (rowSheets) Ping(context.Context, string) error { return nil }

func (r rowSheets) ReadRange(_ context.Context, _ string, rng string) ([][]string, error) {
	return r[rng], nil
}

type memDrive struct {
	mu      sync.Mutex
	files   map[string][]sources.FileInfo
	content map[string]string
	listed  []string
	listErr error
}

func (d *memDrive) List(_ context.Context, container string, _ []string) ([]sources.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listed = append(d.listed, container)
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.files[container], nil
}

func (d *memDrive) failListing(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

func (d *memDrive) Export(ctx context.Context, id, _ string) (io.ReadCloser, error) {
	return d.Download(ctx, id)
}

func (d *memDrive) Download(_ context.Context, id string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return io.NopCloser(strings.NewReader(d.content[id])), nil
}

type allowList map[string][]string

func (a allowList) AllowedContainers(tenantID string) []string { return a[tenantID] }

type harness struct {
	orch     *Orchestrator
	meta     *store.SQLite
	vectors  vectorstore.Store
	embedder *fakeEmbedder
	cache    cache.Cache
	sleeps   *sleepRecorder
	logs     *logging.TestLogger
}

type harnessOption func(h *harness, deps *Deps)

func withAdapters(fn func(c cache.Cache) sources.Adapters) harnessOption {
	return func(h *harness, deps *Deps) { deps.Adapters = fn(h.cache) }
}

func withVectors(wrap func(vectorstore.Store) vectorstore.Store) harnessOption {
	return func(h *harness, deps *Deps) { deps.Vectors = wrap(deps.Vectors) }
}

func withPipeline(cfg func(deps *Deps)) harnessOption {
	return func(_ *harness, deps *Deps) { cfg(deps) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	meta, err := store.Open(ctx, filepath.Join(t.TempDir(), "knowledged.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vecs, err := vectorstore.NewChromemStore(ctx, vectorstore.ChromemConfig{Dimension: testDim}, logging.NewNop())
	require.NoError(t, err)

	h := &harness{
		meta:     meta,
		vectors:  vecs,
		embedder: &fakeEmbedder{},
		cache:    cache.NewMemoryCache(cache.TTLs{Structured: time.Minute, Document: time.Hour}),
		sleeps:   &sleepRecorder{},
		logs:     logging.NewTestLogger(),
	}
	deps := Deps{
		Store:    meta,
		Vectors:  vecs,
		Embedder: h.embedder,
		Cache:    h.cache,
		Logger:   h.logs.Logger,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	h.orch, err = New(Config{}, deps)
	require.NoError(t, err)
	h.orch.WithSleep(h.sleeps.sleep)
	return h
}

// contents maps id to stored text for every vector in the tenant's
// namespace.
func (h *harness) contents(t *testing.T, tenantID string) map[string]string {
	t.Helper()
	ctx := context.Background()
	ns := vectorstore.NamespaceFor(tenantID)
	matches, err := h.vectors.Query(ctx, ns, vectorFor("probe"), 1000)
	require.NoError(t, err)
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m.ID] = m.Metadata["text"]
	}
	return out
}

func (h *harness) states(t *testing.T, operationID string) []string {
	t.Helper()
	ops, err := h.meta.OperationHistory(context.Background(), operationID)
	require.NoError(t, err)
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.State
	}
	return out
}
