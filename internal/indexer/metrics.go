package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const indexerInstrumentationName = "github.com/fyrsmithlabs/driftd/internal/indexer"

// Metrics holds all indexing-related metrics.
type Metrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	filesIndexed  metric.Int64Counter
	chunksStored  metric.Int64Counter
	errors        metric.Int64Counter
	batchDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance for the indexer.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(indexerInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.filesIndexed, err = m.meter.Int64Counter(
		"driftd.indexer.files_indexed_total",
		metric.WithDescription("Total files indexed, labeled by trigger (index_all, watch)"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn("failed to create files counter", zap.Error(err))
	}

	m.chunksStored, err = m.meter.Int64Counter(
		"driftd.indexer.chunks_stored_total",
		metric.WithDescription("Total chunks embedded and stored"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"driftd.indexer.errors_total",
		metric.WithDescription("Total per-item and per-batch indexing failures that were skipped"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.batchDuration, err = m.meter.Float64Histogram(
		"driftd.indexer.batch_duration_seconds",
		metric.WithDescription("Duration of one chunk-embed-insert batch in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create batch duration histogram", zap.Error(err))
	}
}

// RecordFile counts one indexed file.
func (m *Metrics) RecordFile(ctx context.Context, trigger string) {
	if m.filesIndexed != nil {
		m.filesIndexed.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

// RecordChunks counts stored chunks.
func (m *Metrics) RecordChunks(ctx context.Context, n int) {
	if m.chunksStored != nil && n > 0 {
		m.chunksStored.Add(ctx, int64(n))
	}
}

// RecordError counts one skipped failure.
func (m *Metrics) RecordError(ctx context.Context, stage string) {
	if m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordBatch records one batch's duration.
func (m *Metrics) RecordBatch(ctx context.Context, d time.Duration) {
	if m.batchDuration != nil {
		m.batchDuration.Record(ctx, d.Seconds())
	}
}
