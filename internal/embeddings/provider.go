package embeddings

import (
	"fmt"
	"strings"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed" (default) or "tei"
	Provider string
	// Model is the embedding model name
	Model string
	// BaseURL is the TEI URL (only used for TEI provider)
	BaseURL string
	// CacheDir is the model cache directory (only used for FastEmbed)
	CacheDir string
}

// detectDimension returns the embedding dimension for a model name, falling
// back on common naming patterns when the model is not in the known table.
func detectDimension(model string) int {
	if code, ok := modelMapping[model]; ok {
		return modelDimensions[code]
	}
	if dim, ok := modelDimensions[fastembed.EmbeddingModel(model)]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		// Safe default for bge-small class models
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Embedder, error) {
	metrics := NewMetrics(logger)

	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, metrics)
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			VectorSize: detectDimension(cfg.Model),
		}, metrics)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: fastembed, tei)", ErrInvalidConfig, cfg.Provider)
	}
}
