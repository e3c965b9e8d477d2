package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/encounter-risk-server/internal/domain"
)

// CacheClient wraps a Redis client with caching for prediction responses.
// Entries are keyed by the snapshot hash, so identical clinical inputs
// share one cached prediction.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new prediction cache client.
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// CachedPrediction represents a cached prediction response with metadata.
type CachedPrediction struct {
	Data      *domain.PredictionResponse `json:"data"`
	CachedAt  time.Time                  `json:"cached_at"`
	ExpiresAt time.Time                  `json:"expires_at"`
}

// GetPrediction retrieves a cached prediction for a snapshot.
func (c *CacheClient) GetPrediction(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, bool, error) {
	key := predictionKey(snapshot)

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var cached CachedPrediction
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// SetPrediction caches a prediction response for a snapshot.
func (c *CacheClient) SetPrediction(ctx context.Context, snapshot domain.ClinicalSnapshot, data *domain.PredictionResponse, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := CachedPrediction{
		Data:      data,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}

	return c.redis.Set(ctx, predictionKey(snapshot), jsonData, ttl).Err()
}

// InvalidateSnapshot removes the cached prediction for a snapshot.
func (c *CacheClient) InvalidateSnapshot(ctx context.Context, snapshot domain.ClinicalSnapshot) error {
	return c.redis.Del(ctx, predictionKey(snapshot)).Err()
}

// Ping checks if the Redis connection is alive.
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// predictionKey builds the cache key for a snapshot. The snapshot hash is
// stable across field ordering, so equivalent inputs hit the same entry.
func predictionKey(snapshot domain.ClinicalSnapshot) string {
	return fmt.Sprintf("prediction:snapshot:%s", snapshot.HashKey())
}
