package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// errTextEmbedding is returned by the collection embedding func. Records
// always arrive with precomputed vectors.
var errTextEmbedding = errors.New("chromem store does not embed text")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path      string
	Compress  bool
	Dimension int
}

// ChromemStore keeps one chromem collection per namespace.
type ChromemStore struct {
	db        *chromem.DB
	dimension int
	logger    *logging.Logger

	// mu serializes collection lifecycle against writes so DeleteAll
	// cannot race an Upsert into a dropped collection.
	mu sync.RWMutex
}

// NewChromemStore opens the embedded database.
func NewChromemStore(ctx context.Context, cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("chromem")

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = openPersistent(ctx, cfg.Path, cfg.Compress, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}
	return &ChromemStore{db: db, dimension: cfg.Dimension, logger: logger}, nil
}

func rejectText(context.Context, string) ([]float32, error) {
	return nil, errTextEmbedding
}

func (s *ChromemStore) collection(ns string, create bool) (*chromem.Collection, error) {
	if !create {
		return s.db.GetCollection(ns, rejectText), nil
	}
	return s.db.GetOrCreateCollection(ns, nil, rejectText)
}

// Upsert adds records. chromem overwrites documents with the same id.
func (s *ChromemStore) Upsert(ctx context.Context, ns string, records []Record) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer finish(span, "chromem", "upsert", time.Now(), &err)
	span.SetAttributes(attribute.String("namespace", ns), attribute.Int("records", len(records)))

	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := checkDimensions(records, s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(ns, true)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", ns, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  meta,
			Embedding: vec,
			Content:   r.Metadata["text"],
		}
	}
	if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents to %s: %w", ns, err)
	}
	return nil
}

// DeleteAll drops the namespace's collection.
func (s *ChromemStore) DeleteAll(ctx context.Context, ns string) (err error) {
	_, span := tracer.Start(ctx, "ChromemStore.DeleteAll")
	defer finish(span, "chromem", "delete_all", time.Now(), &err)
	span.SetAttributes(attribute.String("namespace", ns))

	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(ns); err != nil {
		return fmt.Errorf("deleting collection %s: %w", ns, err)
	}
	return nil
}

// DeleteByIDs removes the given ids. Unknown ids are ignored.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, ns string, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteByIDs")
	defer finish(span, "chromem", "delete_ids", time.Now(), &err)
	span.SetAttributes(attribute.String("namespace", ns), attribute.Int("ids", len(ids)))

	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, _ := s.collection(ns, false)
	if coll == nil {
		return nil
	}
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", ns, err)
	}
	return nil
}

// Describe reports the document count. A missing collection has zero.
func (s *ChromemStore) Describe(ctx context.Context, ns string) (info Info, err error) {
	_, span := tracer.Start(ctx, "ChromemStore.Describe")
	defer finish(span, "chromem", "describe", time.Now(), &err)

	info.Namespace = ns
	if err := ValidateNamespace(ns); err != nil {
		return info, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if coll, _ := s.collection(ns, false); coll != nil {
		info.VectorCount = coll.Count()
	}
	return info, nil
}

// Query returns up to topK nearest records.
func (s *ChromemStore) Query(ctx context.Context, ns string, vector []float32, topK int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer finish(span, "chromem", "query", time.Now(), &err)

	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, _ := s.collection(ns, false)
	if coll == nil {
		return nil, nil
	}
	// chromem rejects nResults above the document count.
	n := topK
	if count := coll.Count(); n > count {
		n = count
	}
	if n < 1 {
		return nil, nil
	}

	results, err := coll.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", ns, err)
	}
	matches = make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Similarity, Metadata: r.Metadata}
	}
	return matches, nil
}

// Close is a no-op; persistent writes are synchronous.
func (s *ChromemStore) Close() error { return nil }
