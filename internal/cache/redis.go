package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// ErrCacheMiss is returned when a key is absent or its entry has expired.
var ErrCacheMiss = stderrors.New("cache miss")

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisClientInterface is the part of the Redis client the service uses, so tests can mock it.
type RedisClientInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Close() error
}

// RedisService caches ranked match lists and narration text.
type RedisService struct {
	client RedisClientInterface
}

// CacheEntry wraps a cached value with its write time.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       int             `json:"ttl"`
	Version   string          `json:"version"`
}

const entryVersion = "1"

// Default TTLs.
var (
	DefaultTTL       = time.Hour
	MatchCacheTTL    = 2 * time.Hour
	NarrationTTL     = 24 * time.Hour
	CompatibilityTTL = 30 * time.Minute
)

// NewRedisService connects to Redis with the tracing hook installed and checks the connection.
func NewRedisService(ctx context.Context, config RedisConfig) (*RedisService, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_connection",
		"service":   "cache",
		"addr":      config.Addr(),
		"db":        config.DB,
		"pool_size": config.PoolSize,
	})

	logger.Info("Establishing Redis connection")

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr(),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 3,
	})
	telemetry.InstrumentRedisClient(client)

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected successfully")
	return &RedisService{client: client}, nil
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client RedisClientInterface) *RedisService {
	return &RedisService{client: client}
}

// Set stores value as JSON. A zero ttl means DefaultTTL.
func (r *RedisService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_set",
		"key":       key,
		"service":   "cache",
	})

	data, err := json.Marshal(value)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal value for cache")
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.WithError(err).Error("Failed to set cache value")
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	logger.WithField("ttl_seconds", ttl.Seconds()).Debug("Cache value set")
	return nil
}

// Get returns the raw value stored at key.
func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "redis_get",
			"key":       key,
			"service":   "cache",
		}).WithError(err).Error("Failed to get cache value")
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisService) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func cacheKey(key string) string {
	return "cache:" + key
}

// SetCache stores data under the cache namespace with an expiry stamp.
func (r *RedisService) SetCache(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	entry := CacheEntry{
		Data:      raw,
		Timestamp: time.Now().UTC(),
		TTL:       int(ttl / time.Second),
		Version:   entryVersion,
	}
	return r.Set(ctx, cacheKey(key), entry, ttl)
}

// GetCache decodes a cached entry into dest. It returns ErrCacheMiss when the
// key is absent, expired or written by an older entry format.
func (r *RedisService) GetCache(ctx context.Context, key string, dest interface{}) error {
	val, err := r.Get(ctx, cacheKey(key))
	if err != nil {
		return err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return apperrors.NewCacheError("decode_entry", err)
	}
	if entry.Version != entryVersion {
		return ErrCacheMiss
	}
	if time.Since(entry.Timestamp) > time.Duration(entry.TTL)*time.Second {
		return ErrCacheMiss
	}
	return json.Unmarshal(entry.Data, dest)
}

// DeleteCache removes a cached entry.
func (r *RedisService) DeleteCache(ctx context.Context, key string) error {
	return r.Delete(ctx, cacheKey(key))
}

// MatchListKey is the cache key of a seeker's ranked match list.
func MatchListKey(profileID string) string {
	return "matches:" + profileID
}

// NarrationKey is the cache key of the narration for a pair at a given score.
func NarrationKey(pairKey string, score int) string {
	return "narration:" + pairKey + ":" + strconv.Itoa(score)
}

// DeletePattern removes keys matching a pattern
func (r *RedisService) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

// InvalidateAll removes every entry in the cache namespace.
func (r *RedisService) InvalidateAll(ctx context.Context) error {
	_, err := r.DeletePattern(ctx, cacheKey("*"))
	return err
}

// Ping checks Redis connectivity.
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats reports keyspace hits and misses from INFO stats.
func (r *RedisService) GetStats(ctx context.Context) map[string]interface{} {
	info, err := r.client.Info(ctx, "stats").Result()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	var hits, misses int64
	for _, line := range strings.Split(info, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch name {
		case "keyspace_hits":
			hits, _ = strconv.ParseInt(value, 10, 64)
		case "keyspace_misses":
			misses, _ = strconv.ParseInt(value, 10, 64)
		}
	}

	stats := map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": 0.0,
	}
	if total := hits + misses; total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}
	return stats
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
