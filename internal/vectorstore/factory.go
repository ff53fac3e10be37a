package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a store backend.
type Config struct {
	// Provider is "chromem" (default, embedded) or "qdrant".
	Provider string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// NewStore creates a Store for the configured provider.
//
// The chromem provider is the default: embedded, persistent, and requiring
// no external service. The qdrant provider targets a running Qdrant server
// over gRPC.
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
