package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/cache"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/store"
)

// Config controls an export run
type Config struct {
	BatchSize   int
	CreateIndex bool
	WarmTopK    int
}

// Result summarizes a completed export
type Result struct {
	Exported int64
	Failed   int64
	Cached   int64
	Duration time.Duration
}

// Exporter pushes a trained lookup table into the vector store and warms
// the cache with the most frequent elements.
type Exporter struct {
	table       *model.Table
	vectorStore *store.Store
	vectorCache *cache.VectorCache
	config      *Config
	logger      *zap.Logger
}

// NewExporter builds an exporter. The cache is optional; pass nil to skip
// warming.
func NewExporter(table *model.Table, vectorStore *store.Store, vectorCache *cache.VectorCache, cfg *Config, logger *zap.Logger) *Exporter {
	return &Exporter{
		table:       table,
		vectorStore: vectorStore,
		vectorCache: vectorCache,
		config:      cfg,
		logger:      logger,
	}
}

// Run exports every vocabulary vector in batches, optionally builds the
// similarity index, then warms the cache.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	vc := e.table.Vocab()
	elements := vc.Elements()

	e.logger.Info("Starting vector export",
		zap.Int("vocab_size", len(elements)),
		zap.Int("batch_size", e.config.BatchSize),
		zap.Bool("create_index", e.config.CreateIndex))

	batch := make([]*store.WordVector, 0, e.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := e.vectorStore.BatchInsert(ctx, batch)
		if err != nil {
			result.Failed += int64(len(batch))
			return fmt.Errorf("export batch failed: %w", err)
		}
		result.Exported += res.Inserted
		result.Failed += res.Failed
		batch = batch[:0]
		return nil
	}

	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		vec, err := e.table.Vector(el.Label)
		if err != nil {
			e.logger.Warn("Skipping element without vector", zap.String("label", el.Label), zap.Error(err))
			result.Failed++
			continue
		}

		batch = append(batch, &store.WordVector{
			Label:     el.Label,
			Count:     el.Count,
			Embedding: vec,
		})
		if len(batch) == e.config.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if e.config.CreateIndex {
		if err := e.vectorStore.CreateIndex(ctx); err != nil {
			e.logger.Warn("Failed to create vector index", zap.Error(err))
		}
	}

	if e.vectorCache != nil && e.config.WarmTopK > 0 {
		cached, err := e.warmCache(ctx, e.config.WarmTopK)
		if err != nil {
			e.logger.Warn("Cache warming failed", zap.Error(err))
		}
		result.Cached = cached
	}

	result.Duration = time.Since(start)
	e.logger.Info("Vector export completed",
		zap.Int64("exported", result.Exported),
		zap.Int64("failed", result.Failed),
		zap.Int64("cached", result.Cached),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// warmCache pushes the topK most frequent element vectors into the cache.
// Elements are already ordered by descending count.
func (e *Exporter) warmCache(ctx context.Context, topK int) (int64, error) {
	// Drop vectors cached from an earlier export before warming; a re-export
	// means the model changed and stale entries would answer wrong.
	if err := e.vectorCache.Clear(ctx); err != nil {
		e.logger.Warn("Failed to clear cache before warming", zap.Error(err))
	}

	elements := e.table.Vocab().Elements()
	if topK > len(elements) {
		topK = len(elements)
	}

	vectors := make([]*cache.CachedVector, 0, topK)
	for _, el := range elements[:topK] {
		vec, err := e.table.Vector(el.Label)
		if err != nil {
			continue
		}
		vectors = append(vectors, &cache.CachedVector{
			Label:     el.Label,
			Count:     el.Count,
			Embedding: vec,
		})
	}

	if err := e.vectorCache.StoreBatch(ctx, vectors); err != nil {
		return 0, err
	}

	e.logger.Info("Cache warmed with frequent elements", zap.Int("count", len(vectors)))
	return int64(len(vectors)), nil
}
