package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidNamespace indicates a namespace that fails validation.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrDimensionMismatch indicates a vector of the wrong size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("vector store circuit breaker open")
)

// Record is one embedded chunk.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is one query result.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Info describes a namespace.
type Info struct {
	Namespace   string `json:"namespace"`
	VectorCount int    `json:"vector_count"`
}

// Store is a namespace-scoped vector index. Upsert replaces records with
// the same id. Deleting ids or namespaces that do not exist succeeds.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	DeleteAll(ctx context.Context, namespace string) error
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error
	Describe(ctx context.Context, namespace string) (Info, error)
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	Close() error
}

var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// NamespaceFor returns the namespace owned by tenantID.
func NamespaceFor(tenantID string) string {
	return tenant.Namespace(tenantID)
}

// ValidateNamespace rejects names that are not safe collection names.
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, ns)
	}
	return nil
}

func checkDimensions(records []Record, dim int) error {
	for _, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has %d, want %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
	}
	return nil
}
