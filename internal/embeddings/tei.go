package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// TEIConfig holds configuration for the Text Embeddings Inference provider.
type TEIConfig struct {
	// BaseURL is the base URL for the TEI server.
	// Default: http://localhost:8080
	BaseURL string

	// Model is the model identifier recorded on embedded chunks. TEI serves
	// whatever model it was started with; this field only labels the output.
	Model string

	// VectorSize is the dimension of the served model's embeddings.
	// Default: 384 (bge-small-en-v1.5).
	VectorSize int

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *TEIConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider embeds via a Text Embeddings Inference HTTP server. The model
// lives in the server process, so Load is a health probe rather than a model
// download.
type TEIProvider struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
}

// NewTEIProvider creates a TEI-backed embedder.
func NewTEIProvider(cfg TEIConfig, metrics *Metrics) (*TEIProvider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TEIProvider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics,
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// Load probes the server's health endpoint. TEI keeps the model resident, so
// there is nothing to download client-side.
func (p *TEIProvider) Load(ctx context.Context, progress ProgressFunc) error {
	report(progress, "checking embedding server", 0, 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", ErrEmbeddingFailed, resp.StatusCode)
	}
	report(progress, "embedding server ready", 1, 1)
	return nil
}

func (p *TEIProvider) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// EmbedChunks embeds chunk contents in one TEI call, preserving order.
func (p *TEIProvider) EmbedChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) ([]chunk.Embedded, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_chunks", time.Since(start), len(chunks), genErr)
	}()

	if len(chunks) == 0 {
		genErr = fmt.Errorf("%w: chunks cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	report(progress, "embedding batch", 0, len(chunks))
	vectors, err := p.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	report(progress, "embedding batch", len(chunks), len(chunks))

	out, err := embedded(chunks, vectors, p.config.Model)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension returns the configured embedding dimension.
func (p *TEIProvider) Dimension() int {
	return p.config.VectorSize
}

// ModelName returns the configured model identifier.
func (p *TEIProvider) ModelName() string {
	return p.config.Model
}

// Close is a no-op; the model lives in the server process.
func (p *TEIProvider) Close() error {
	return nil
}

// Ensure TEIProvider implements Embedder.
var _ Embedder = (*TEIProvider)(nil)
