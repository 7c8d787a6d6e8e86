package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/config"
)

// VectorCache is a Redis-backed cache of trained word vectors, keyed by
// element label. It fronts the database store in serve mode so frequent
// labels never hit PostgreSQL.
type VectorCache struct {
	client *redis.Client
	config *config.CacheConfig
	logger *zap.Logger

	hits   int64
	misses int64
}

// NewVectorCache connects to Redis and verifies the connection
func NewVectorCache(cfg *config.CacheConfig, logger *zap.Logger) (*VectorCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	vc := &VectorCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := vc.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Vector cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return vc, nil
}

// Get looks up the cached vector for a label. A miss is not an error.
func (vc *VectorCache) Get(ctx context.Context, label string) (*LookupResult, error) {
	key := vc.labelKey(label)

	data, err := vc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&vc.misses, 1)
		vc.logger.Debug("Cache miss", zap.String("key", key))
		return &LookupResult{CacheHit: false}, nil
	} else if err != nil {
		vc.logger.Error("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}, nil
	}

	var cached CachedVector
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		vc.logger.Error("Failed to unmarshal cached vector", zap.Error(err))
		vc.client.Del(ctx, key)
		return &LookupResult{CacheHit: false}, nil
	}

	atomic.AddInt64(&vc.hits, 1)
	vc.logger.Debug("Cache hit", zap.String("key", key))

	return &LookupResult{Vector: &cached, CacheHit: true}, nil
}

// Set caches a single vector under its label
func (vc *VectorCache) Set(ctx context.Context, vector *CachedVector) error {
	vector.CachedAt = time.Now()
	vector.TTL = int64(vc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector for caching: %w", err)
	}

	key := vc.labelKey(vector.Label)
	if err := vc.client.Set(ctx, key, data, vc.config.DefaultTTL).Err(); err != nil {
		vc.logger.Error("Failed to cache vector", zap.Error(err))
		return fmt.Errorf("failed to cache vector: %w", err)
	}

	vc.logger.Debug("Vector cached successfully",
		zap.String("key", key),
		zap.String("label", vector.Label))

	return nil
}

// StoreBatch caches multiple vectors through a Redis pipeline
func (vc *VectorCache) StoreBatch(ctx context.Context, vectors []*CachedVector) error {
	if len(vectors) == 0 {
		return nil
	}

	pipe := vc.client.Pipeline()

	for _, vector := range vectors {
		vector.CachedAt = time.Now()
		vector.TTL = int64(vc.config.DefaultTTL.Seconds())

		data, err := json.Marshal(vector)
		if err != nil {
			vc.logger.Error("Failed to marshal vector for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, vc.labelKey(vector.Label), data, vc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		vc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	vc.logger.Debug("Batch cache operation completed",
		zap.Int("cached_vectors", len(vectors)))

	return nil
}

// GetStats returns hit counters and Redis memory usage
func (vc *VectorCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := vc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   atomic.LoadInt64(&vc.hits),
		Misses: atomic.LoadInt64(&vc.misses),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	if keys, err := vc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached vectors under the configured key prefix
func (vc *VectorCache) Clear(ctx context.Context) error {
	pattern := vc.config.KeyPrefix + "*"

	iter := vc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VectorCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

func (vc *VectorCache) labelKey(label string) string {
	return fmt.Sprintf("%s:vec:%s", vc.config.KeyPrefix, label)
}

// maskRedisURL hides the password portion of a Redis URL for logging
func maskRedisURL(url string) string {
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
