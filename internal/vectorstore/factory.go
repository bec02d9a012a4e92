package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// NewStore builds the store selected by cfg.VectorStore.Provider. The
// vector dimension comes from the embedding provider.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "chromem":
		s, err := NewChromemStore(ctx, ChromemConfig{
			Path:      cfg.ChromemPath,
			Compress:  cfg.ChromemCompress,
			Dimension: dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "qdrant":
		s, err := NewQdrantStore(ctx, QdrantConfig{
			Host:           cfg.QdrantHost,
			Port:           cfg.QdrantPort,
			UseTLS:         cfg.QdrantTLS,
			Dimension:      dimension,
			MaxRetries:     cfg.QdrantMaxRetries,
			RetryBackoff:   time.Second,
			BreakerFailing: cfg.QdrantBreakerFailing,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
