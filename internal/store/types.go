package store

import (
	"time"
)

// WordVector is a trained element vector persisted for similarity queries
type WordVector struct {
	ID        int64     `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	Count     int64     `db:"count" json:"count"`
	Embedding []float32 `db:"embedding" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SimilarityResult is one hit from a vector similarity search
type SimilarityResult struct {
	Vector     *WordVector `json:"vector"`
	Similarity float32     `json:"similarity"`
	Distance   float32     `json:"distance"`
}

// SearchOptions controls a similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	MinCount      int64   `json:"min_count,omitempty"`
}

// Stats reports table-level statistics
type Stats struct {
	TotalVectors int64 `json:"total_vectors"`
	TotalCount   int64 `json:"total_count"`
	Dimensions   int   `json:"dimensions"`
}

// BatchInsertResult reports the outcome of a batch insert
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"errors,omitempty"`
}
