// Package config provides configuration loading for driftd.
//
// Configuration is loaded from a YAML file, overridden by DRIFTD_*
// environment variables, on top of hardcoded defaults.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/driftd/internal/coherence"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/indexer"
	"github.com/fyrsmithlabs/driftd/internal/logging"
	"github.com/fyrsmithlabs/driftd/internal/search"
	"github.com/fyrsmithlabs/driftd/internal/telemetry"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

// Config holds the complete driftd configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Search     SearchConfig     `koanf:"search"`
	Coherence  CoherenceConfig  `koanf:"coherence"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded-store configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig holds Qdrant server configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX, default) or "tei".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// IndexerConfig holds indexing configuration.
type IndexerConfig struct {
	BatchSize   int           `koanf:"batch_size"`
	Include     []string      `koanf:"include"`
	Exclude     []string      `koanf:"exclude"`
	MaxFileSize int64         `koanf:"max_file_size"`
	GitHistory  bool          `koanf:"git_history"`
	MaxCommits  int           `koanf:"max_commits"`
	StatePath   string        `koanf:"state_path"`
	Debounce    time.Duration `koanf:"debounce"`
}

// SearchConfig holds default search behavior; per-query flags override it.
type SearchConfig struct {
	K      int     `koanf:"k"`
	Min    float32 `koanf:"min"`
	Hybrid bool    `koanf:"hybrid"`
	Alpha  float32 `koanf:"alpha"`
	Rerank bool    `koanf:"rerank"`
}

// CoherenceConfig holds drift detection thresholds.
type CoherenceConfig struct {
	CoherenceThreshold float32 `koanf:"coherence_threshold"`
	DriftThreshold     float32 `koanf:"drift_threshold"`
}

// Default returns the configuration used when no file or environment
// overrides are present. Loading merges overrides into this value, so
// explicit false and zero values in the file win over these defaults.
func Default() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Fields: map[string]string{"service": "driftd"},
		},
		Store: StoreConfig{
			Provider: "chromem",
			Chromem: ChromemConfig{
				Path:       "~/.config/driftd/vectorstore",
				VectorSize: 384,
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				VectorSize: 384,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
			BaseURL:  "http://localhost:8080",
			CacheDir: "~/.cache/driftd/models",
		},
		Indexer: IndexerConfig{
			BatchSize:   50,
			MaxFileSize: 1024 * 1024,
			MaxCommits:  50,
			StatePath:   "~/.config/driftd/index-state.json",
			Debounce:    time.Second,
		},
		Search: SearchConfig{
			K:      10,
			Hybrid: true,
			Alpha:  0.7,
		},
		Coherence: CoherenceConfig{
			CoherenceThreshold: 0.6,
			DriftThreshold:     0.3,
		},
		Telemetry: telemetry.Config{
			Endpoint:        "localhost:4317",
			ServiceName:     "driftd",
			ServiceVersion:  "dev",
			Insecure:        true,
			SampleRate:      1.0,
			MetricsInterval: 15 * time.Second,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Store.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("store provider must be 'chromem' or 'qdrant', got %q", c.Store.Provider)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("embeddings provider must be 'fastembed' or 'tei', got %q", c.Embeddings.Provider)
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer batch_size must be > 0, got %d", c.Indexer.BatchSize)
	}
	if c.Search.K <= 0 {
		return fmt.Errorf("search k must be > 0, got %d", c.Search.K)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search alpha must be in [0,1], got %v", c.Search.Alpha)
	}
	if c.Coherence.CoherenceThreshold <= 0 || c.Coherence.CoherenceThreshold > 1 {
		return fmt.Errorf("coherence_threshold must be in (0,1], got %v", c.Coherence.CoherenceThreshold)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// VectorStore maps the store section onto the vectorstore package config.
func (c *Config) VectorStore() vectorstore.Config {
	return vectorstore.Config{
		Provider: c.Store.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:       c.Store.Chromem.Path,
			Compress:   c.Store.Chromem.Compress,
			VectorSize: c.Store.Chromem.VectorSize,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       c.Store.Qdrant.Host,
			Port:       c.Store.Qdrant.Port,
			VectorSize: c.Store.Qdrant.VectorSize,
			UseTLS:     c.Store.Qdrant.UseTLS,
		},
	}
}

// EmbeddingProvider maps the embeddings section onto the embeddings
// package config.
func (c *Config) EmbeddingProvider() embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider: c.Embeddings.Provider,
		Model:    c.Embeddings.Model,
		BaseURL:  c.Embeddings.BaseURL,
		CacheDir: c.Embeddings.CacheDir,
	}
}

// IndexerConfig maps the indexer section onto the indexer package config.
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		BatchSize:   c.Indexer.BatchSize,
		Include:     c.Indexer.Include,
		Exclude:     c.Indexer.Exclude,
		MaxFileSize: c.Indexer.MaxFileSize,
		GitHistory:  c.Indexer.GitHistory,
		MaxCommits:  c.Indexer.MaxCommits,
		StatePath:   c.Indexer.StatePath,
	}
}

// CoherenceConfig maps the coherence section onto the coherence package
// config.
func (c *Config) CoherenceConfig() coherence.Config {
	return coherence.Config{
		CoherenceThreshold: c.Coherence.CoherenceThreshold,
		DriftThreshold:     c.Coherence.DriftThreshold,
	}
}

// Query builds a search query for text from the configured defaults.
func (c *Config) Query(text string) search.Query {
	return search.Query{
		Text:   text,
		K:      c.Search.K,
		Min:    c.Search.Min,
		Hybrid: c.Search.Hybrid,
		Alpha:  c.Search.Alpha,
		Rerank: c.Search.Rerank,
	}
}
