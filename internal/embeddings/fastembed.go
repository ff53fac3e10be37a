package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	// Defaults to ~/.cache/driftd/models
	CacheDir string

	// MaxLength is the maximum input sequence length.
	// Defaults to 512.
	MaxLength int

	// BatchSize is the ONNX inference batch size. Defaults to 256.
	BatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *FastEmbedConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.CacheDir == "" {
		c.CacheDir = "~/.cache/driftd/models"
	}
	if c.MaxLength == 0 {
		c.MaxLength = 512
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	// Also accept the fastembed model names directly
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-small-en":      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-bge-base-en":       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5": fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// FastEmbedProvider embeds locally using ONNX models. The model download and
// runtime init is slow (tens of seconds cold), so it is deferred to the first
// Load or embed call and guarded single-flight: callers arriving during a
// load wait for that load rather than starting another.
type FastEmbedProvider struct {
	config    FastEmbedConfig
	modelCode fastembed.EmbeddingModel
	dimension int

	mu      sync.Mutex
	model   *fastembed.FlagEmbedding
	loading chan struct{}
	loadErr error

	metrics *Metrics
}

// NewFastEmbedProvider creates a FastEmbed provider. The model is not loaded
// until Load or the first embed call.
func NewFastEmbedProvider(cfg FastEmbedConfig, metrics *Metrics) (*FastEmbedProvider, error) {
	cfg.ApplyDefaults()

	model, ok := modelMapping[cfg.Model]
	if !ok {
		// Check if it's a direct fastembed model name
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, cfg.Model)
		}
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &FastEmbedProvider{
		config:    cfg,
		modelCode: model,
		dimension: modelDimensions[model],
		metrics:   metrics,
	}, nil
}

// Load initializes the ONNX model, downloading it on first use.
func (p *FastEmbedProvider) Load(ctx context.Context, progress ProgressFunc) error {
	for {
		p.mu.Lock()
		if p.model != nil {
			p.mu.Unlock()
			return nil
		}
		if p.loading == nil {
			break
		}
		ch := p.loading
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		p.mu.Lock()
		loaded := p.model != nil
		err := p.loadErr
		p.mu.Unlock()
		if loaded {
			return nil
		}
		if err != nil {
			return err
		}
		// Model was closed between the load completing and our re-check;
		// loop and load again.
	}

	ch := make(chan struct{})
	p.loading = ch
	p.mu.Unlock()

	report(progress, fmt.Sprintf("loading model %s", p.config.Model), 0, 0)

	cacheDir, err := expandHome(p.config.CacheDir)
	if err != nil {
		err = fmt.Errorf("expanding cache dir: %w", err)
		p.finishLoad(nil, err, ch)
		return err
	}

	// Disable progress bar for daemon use
	showProgress := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                p.modelCode,
		CacheDir:             cacheDir,
		MaxLength:            p.config.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		err = fmt.Errorf("initializing FastEmbed: %w", err)
		p.finishLoad(nil, err, ch)
		return err
	}

	p.finishLoad(model, nil, ch)
	report(progress, fmt.Sprintf("model %s ready", p.config.Model), 1, 1)
	return nil
}

func (p *FastEmbedProvider) finishLoad(model *fastembed.FlagEmbedding, err error, ch chan struct{}) {
	p.mu.Lock()
	p.model = model
	p.loadErr = err
	p.loading = nil
	p.mu.Unlock()
	close(ch)
}

// EmbedChunks embeds chunk contents with the "passage: " prefix BGE models
// recommend for documents. Output order matches input order.
func (p *FastEmbedProvider) EmbedChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) ([]chunk.Embedded, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_chunks", time.Since(start), len(chunks), genErr)
	}()

	if len(chunks) == 0 {
		genErr = fmt.Errorf("%w: chunks cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if genErr = p.Load(ctx, progress); genErr != nil {
		return nil, genErr
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		genErr = fmt.Errorf("%w: model closed during embed", ErrEmbeddingFailed)
		return nil, genErr
	}

	report(progress, "embedding batch", 0, len(chunks))
	vectors, err := model.PassageEmbed(texts, p.config.BatchSize)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
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

// EmbedQuery embeds a query with the "query: " prefix BGE models recommend.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if genErr = p.Load(ctx, nil); genErr != nil {
		return nil, genErr
	}

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		genErr = fmt.Errorf("%w: model closed during embed", ErrEmbeddingFailed)
		return nil, genErr
	}

	vector, err := model.QueryEmbed(text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// ModelName returns the configured model identifier.
func (p *FastEmbedProvider) ModelName() string {
	return p.config.Model
}

// Close destroys the ONNX runtime. A later Load reinitializes it.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		err := p.model.Destroy()
		p.model = nil
		p.loadErr = nil
		return err
	}
	return nil
}

// Ensure FastEmbedProvider implements Embedder.
var _ Embedder = (*FastEmbedProvider)(nil)
