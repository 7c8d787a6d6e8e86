package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/config"
)

// Store persists word vectors in PostgreSQL with the pgvector extension
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database, verifies pgvector is installed and
// ensures the word_vectors table exists.
func NewStore(cfg *config.StoreConfig, dim int, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.initialize(dim); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("dimensions", dim),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

// initialize pings the database, checks the pgvector extension and creates
// the word_vectors table for the configured dimensionality.
func (s *Store) initialize(dim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS word_vectors (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL UNIQUE,
			count BIGINT NOT NULL DEFAULT 0,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create word_vectors table: %w", err)
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// BatchInsert upserts multiple word vectors in a single statement
func (s *Store) BatchInsert(ctx context.Context, vectors []*WordVector) (*BatchInsertResult, error) {
	if len(vectors) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(vectors))
	valueArgs := make([]interface{}, 0, len(vectors)*3)

	for i, vector := range vectors {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		valueArgs = append(valueArgs,
			vector.Label,
			vector.Count,
			formatEmbedding(vector.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO word_vectors (label, count, embedding)
		VALUES %s
		ON CONFLICT (label) DO UPDATE
			SET count = EXCLUDED.count, embedding = EXCLUDED.embedding, updated_at = now()`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(vectors))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(vectors))
	}

	result.Inserted = inserted
	result.Failed = int64(len(vectors)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// GetVector fetches the stored vector for a label. Returns sql.ErrNoRows
// when the label is absent.
func (s *Store) GetVector(ctx context.Context, label string) (*WordVector, error) {
	query := `
		SELECT id, label, count, embedding, created_at, updated_at
		FROM word_vectors
		WHERE label = $1`

	var vector WordVector
	var embeddingStr string
	err := s.db.QueryRowContext(ctx, query, label).Scan(
		&vector.ID,
		&vector.Label,
		&vector.Count,
		&embeddingStr,
		&vector.CreatedAt,
		&vector.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	vector.Embedding, err = parseEmbedding(embeddingStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedding: %w", err)
	}
	return &vector, nil
}

// FindSimilar returns the vectors closest to the given embedding by cosine
// distance, best match first.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{
			Limit:         5,
			MinSimilarity: 0.0,
		}
	}

	embeddingStr := formatEmbedding(embedding)

	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{embeddingStr, options.MinSimilarity}
	argIndex := 3

	if options.MinCount > 0 {
		whereClause += fmt.Sprintf(" AND count >= $%d", argIndex)
		args = append(args, options.MinCount)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, label, count, embedding,
			created_at, updated_at,
			(1 - (embedding <=> $1)) as similarity,
			(embedding <=> $1) as distance
		FROM word_vectors
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, argIndex)

	args = append(args, options.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var vector WordVector
		var embeddingStr string

		err := rows.Scan(
			&vector.ID,
			&vector.Label,
			&vector.Count,
			&embeddingStr,
			&vector.CreatedAt,
			&vector.UpdatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		vector.Embedding, err = parseEmbedding(embeddingStr)
		if err != nil {
			s.logger.Error("Failed to parse embedding", zap.Error(err))
			continue
		}

		result.Vector = &vector
		results = append(results, &result)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

// GetStats returns counts over the stored vectors
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(count), 0) as total_count
		FROM word_vectors`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalVectors,
		&stats.TotalCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}

	var dim sql.NullInt64
	dimQuery := "SELECT vector_dims(embedding) FROM word_vectors LIMIT 1"
	if err := s.db.QueryRowContext(ctx, dimQuery).Scan(&dim); err != nil && err != sql.ErrNoRows {
		s.logger.Warn("Failed to get vector dimensions", zap.Error(err))
	}
	if dim.Valid {
		stats.Dimensions = int(dim.Int64)
	}

	return stats, nil
}

// CreateIndex creates the cosine similarity index once the table is large
// enough for ivfflat to be worthwhile.
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM word_vectors"); err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	if count < 1000 {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_word_vectors_embedding
		ON word_vectors USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// formatEmbedding converts a float32 slice to the pgvector text format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts the pgvector text format back to a float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(embeddingStr, "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))

	for i, part := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &val); err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = val
	}

	return embedding, nil
}

// maskDatabaseURL hides the password portion of a connection URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
