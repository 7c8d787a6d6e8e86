package cache

import (
	"time"
)

// CachedVector is a word vector stored in the cache, keyed by label
type CachedVector struct {
	Label     string    `json:"label"`
	Count     int64     `json:"count"`
	Embedding []float32 `json:"embedding"`
	CachedAt  time.Time `json:"cached_at"`
	TTL       int64     `json:"ttl"`
}

// LookupResult reports a cache lookup outcome
type LookupResult struct {
	Vector   *CachedVector `json:"vector"`
	CacheHit bool          `json:"cache_hit"`
}

// Stats reports cache performance counters
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
