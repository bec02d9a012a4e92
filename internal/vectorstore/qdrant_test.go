package vectorstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// fakeQdrant keeps points per collection keyed by payload id.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]*qdrant.PointStruct
	created     []string
	upsertErrs  []error
	calls       int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]map[string]*qdrant.PointStruct{}}
}

func notFound() error { return status.Error(grpccodes.NotFound, "collection not found") }

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		return nil, err
	}
	coll, ok := f.collections[req.CollectionName]
	if !ok {
		return nil, notFound()
	}
	for _, p := range req.Points {
		coll[p.Payload[payloadID].GetStringValue()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.collections[req.CollectionName]
	if !ok {
		return nil, notFound()
	}
	filter := req.Points.GetFilter()
	ids := filter.Must[0].GetField().Match.GetKeywords().Strings
	for _, id := range ids {
		delete(coll, id)
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.collections[req.CollectionName]
	if !ok {
		return nil, notFound()
	}
	var out []*qdrant.ScoredPoint
	for _, p := range coll {
		out = append(out, &qdrant.ScoredPoint{Id: p.Id, Payload: p.Payload, Score: 0.5})
		if uint64(len(out)) == *req.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[req.CollectionName]; ok {
		return status.Error(grpccodes.AlreadyExists, "exists")
	}
	f.collections[req.CollectionName] = map[string]*qdrant.PointStruct{}
	f.created = append(f.created, req.CollectionName)
	return nil
}

func (f *fakeQdrant) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) GetCollectionInfo(_ context.Context, name string) (*qdrant.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.collections[name]
	if !ok {
		return nil, notFound()
	}
	n := uint64(len(coll))
	return &qdrant.CollectionInfo{PointsCount: &n}, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func newTestQdrant(f *fakeQdrant) *QdrantStore {
	s := newQdrantStore(f, QdrantConfig{Dimension: testDim, RetryBackoff: time.Millisecond}, logging.NewNop())
	s.breaker.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestQdrantStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeQdrant()
	s := newTestQdrant(f)
	ns := NamespaceFor("acme-dental")

	info, err := s.Describe(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 0, info.VectorCount, "missing collection counts as empty")

	require.NoError(t, s.Upsert(ctx, ns, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
	require.NoError(t, s.Upsert(ctx, ns, []Record{rec("a", 1, 0, 0, 0)}))
	assert.Equal(t, []string{ns}, f.created, "collection created once")

	info, err = s.Describe(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 2, info.VectorCount)

	matches, err := s.Query(ctx, ns, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, []string{"a", "b"}, matches[0].ID)
	assert.Equal(t, "document", matches[0].Metadata["type"])
	assert.NotContains(t, matches[0].Metadata, payloadID)

	require.NoError(t, s.DeleteByIDs(ctx, ns, []string{"a", "ghost"}))
	info, err = s.Describe(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 1, info.VectorCount)

	require.NoError(t, s.DeleteAll(ctx, ns))
	require.NoError(t, s.DeleteAll(ctx, ns))
	require.NoError(t, s.DeleteByIDs(ctx, ns, []string{"b"}))
	info, err = s.Describe(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 0, info.VectorCount)
}

func TestQdrantStore_PointIDStable(t *testing.T) {
	assert.Equal(t, PointID("acme-dental-general-faq-0"), PointID("acme-dental-general-faq-0"))
	assert.NotEqual(t, PointID("acme-dental-general-faq-0"), PointID("acme-dental-general-faq-1"))
	assert.Len(t, PointID("x"), 36)
}

func TestQdrantStore_RetriesTransient(t *testing.T) {
	ctx := context.Background()
	f := newFakeQdrant()
	s := newTestQdrant(f)
	f.upsertErrs = []error{
		status.Error(grpccodes.Unavailable, "down"),
		status.Error(grpccodes.DeadlineExceeded, "slow"),
	}

	require.NoError(t, s.Upsert(ctx, "kb_acme", []Record{rec("a", 1, 0, 0, 0)}))
	assert.Equal(t, 3, f.calls)
}

func TestQdrantStore_PermanentErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFakeQdrant()
	s := newTestQdrant(f)
	f.upsertErrs = []error{status.Error(grpccodes.InvalidArgument, "bad")}

	err := s.Upsert(ctx, "kb_acme", []Record{rec("a", 1, 0, 0, 0)})
	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestQdrantStore_Validation(t *testing.T) {
	s := newTestQdrant(newFakeQdrant())
	ctx := context.Background()

	assert.ErrorIs(t, s.Upsert(ctx, "kb_acme", []Record{rec("a", 1)}), ErrDimensionMismatch)
	assert.ErrorIs(t, s.DeleteAll(ctx, "../etc"), ErrInvalidNamespace)

	cfg := QdrantConfig{Port: 70000, Dimension: 4}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
