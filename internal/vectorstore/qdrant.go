package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/knowledged/internal/vectorstore")

// payloadID is the payload key holding the caller's record id. Point ids
// are derived from it because qdrant only accepts UUIDs or integers.
const payloadID = "id"

// QdrantConfig configures the gRPC client.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	Dimension      int
	MaxRetries     int
	RetryBackoff   time.Duration
	BreakerFailing int
	MaxMessageSize int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.BreakerFailing == 0 {
		c.BreakerFailing = 5
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: qdrant port out of range: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client the store calls.
type qdrantClient interface {
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore keeps one qdrant collection per namespace.
type QdrantStore struct {
	client    qdrantClient
	dimension int
	breaker   *breaker
	logger    *logging.Logger

	// collections caches namespaces known to exist.
	collections sync.Map
}

// NewQdrantStore dials qdrant and checks its health.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := newQdrantStore(client, cfg, logger)
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

func newQdrantStore(client qdrantClient, cfg QdrantConfig, logger *logging.Logger) *QdrantStore {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantStore{
		client:    client,
		dimension: cfg.Dimension,
		breaker:   newBreaker(cfg.MaxRetries, cfg.RetryBackoff, cfg.BreakerFailing),
		logger:    logger.Named("qdrant"),
	}
}

// PointID maps a record id onto a stable UUID.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Upsert writes records, creating the collection on first use.
func (s *QdrantStore) Upsert(ctx context.Context, ns string, records []Record) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer finish(span, "qdrant", "upsert", time.Now(), &err)
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
	if err := s.ensureCollection(ctx, ns); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*qdrant.Value, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		payload[payloadID] = qdrant.NewValueString(r.ID)
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	return s.breaker.do(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: ns,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// DeleteAll drops the namespace's collection.
func (s *QdrantStore) DeleteAll(ctx context.Context, ns string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteAll")
	defer finish(span, "qdrant", "delete_all", time.Now(), &err)
	span.SetAttributes(attribute.String("namespace", ns))

	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	exists, err := s.exists(ctx, ns)
	if err != nil || !exists {
		return err
	}
	err = s.breaker.do(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, ns)
	})
	if isNotFound(err) {
		err = nil
	}
	s.collections.Delete(ns)
	return err
}

// DeleteByIDs removes records whose payload id is in ids.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, ns string, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByIDs")
	defer finish(span, "qdrant", "delete_ids", time.Now(), &err)
	span.SetAttributes(attribute.String("namespace", ns), attribute.Int("ids", len(ids)))

	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.exists(ctx, ns)
	if err != nil || !exists {
		return err
	}

	return s.breaker.do(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: ns,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: payloadID,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keywords{
											Keywords: &qdrant.RepeatedStrings{Strings: ids},
										},
									},
								},
							},
						}},
					},
				},
			},
		})
		return err
	})
}

// Describe reports the point count. A missing collection has zero.
func (s *QdrantStore) Describe(ctx context.Context, ns string) (info Info, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Describe")
	defer finish(span, "qdrant", "describe", time.Now(), &err)

	info.Namespace = ns
	if err := ValidateNamespace(ns); err != nil {
		return info, err
	}

	var coll *qdrant.CollectionInfo
	err = s.breaker.do(ctx, "describe", func() error {
		var err error
		coll, err = s.client.GetCollectionInfo(ctx, ns)
		if isNotFound(err) {
			coll, err = nil, nil
		}
		return err
	})
	if err != nil {
		return info, err
	}
	if coll != nil && coll.PointsCount != nil {
		info.VectorCount = int(*coll.PointsCount)
	}
	span.SetAttributes(attribute.Int("vector_count", info.VectorCount))
	return info, nil
}

// Query returns the topK nearest records by cosine similarity.
func (s *QdrantStore) Query(ctx context.Context, ns string, vector []float32, topK int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer finish(span, "qdrant", "query", time.Now(), &err)

	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK < 1 {
		topK = 1
	}

	var points []*qdrant.ScoredPoint
	err = s.breaker.do(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: ns,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if isNotFound(err) {
			points, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	matches = make([]Match, 0, len(points))
	for _, p := range points {
		meta := make(map[string]string, len(p.Payload))
		var id string
		for k, v := range p.Payload {
			if k == payloadID {
				id = v.GetStringValue()
				continue
			}
			meta[k] = v.GetStringValue()
		}
		matches = append(matches, Match{ID: id, Score: p.Score, Metadata: meta})
	}
	return matches, nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) exists(ctx context.Context, ns string) (bool, error) {
	if _, ok := s.collections.Load(ns); ok {
		return true, nil
	}
	var exists bool
	err := s.breaker.do(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, ns)
		if isNotFound(err) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = info != nil
		return nil
	})
	if exists {
		s.collections.Store(ns, true)
	}
	return exists, err
}

func (s *QdrantStore) ensureCollection(ctx context.Context, ns string) error {
	exists, err := s.exists(ctx, ns)
	if err != nil || exists {
		return err
	}
	err = s.breaker.do(ctx, "create_collection", func() error {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: ns,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if status.Code(err) == grpccodes.AlreadyExists {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", ns, err)
	}
	s.collections.Store(ns, true)
	s.logger.Info(ctx, "collection created", zap.String("namespace", ns), zap.Int("dimension", s.dimension))
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// finish records the outcome of one store call on its span and metrics.
func finish(span trace.Span, backend, op string, start time.Time, errp *error) {
	observe(backend, op, start, *errp)
	if *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
