package caches

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cache-service/internal/services/cache"
	"cache-service/internal/storage"
)

const (
	redisKeyPrefix = "warm:"
	probeKey       = "warm:__probe__"

	// Physical retention outlives logical expiry so stale copies stay
	// readable for fetch-failure fallback.
	staleRetention = 7 * 24 * time.Hour

	// Approximates serialization overhead per stored byte when summing
	// usage across entries.
	encodingOverheadFactor = 2
)

// RedisCache is the warm tier: larger than memory, shared across instances,
// still fast. Logical expiry lives inside the envelope; Redis only enforces
// the stale-retention ceiling.
type RedisCache struct {
	client *storage.RedisClient

	hits   atomic.Int64
	misses atomic.Int64
}

type redisEnvelope struct {
	Value     []byte    `json:"v"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewRedisCache(client *storage.RedisClient) *RedisCache {
	return &RedisCache{client: client}
}

func (rc *RedisCache) Name() string {
	return "REDIS"
}

func (rc *RedisCache) Get(key string) (*cache.Entry, error) {
	raw, err := rc.client.GetBytes(redisKeyPrefix + key)
	if err != nil {
		rc.misses.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if raw == nil {
		rc.misses.Add(1)
		return nil, nil
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		rc.misses.Add(1)
		return nil, fmt.Errorf("redis envelope decode: %w", err)
	}

	rc.hits.Add(1)
	return &cache.Entry{
		Key:       key,
		Value:     env.Value,
		StoredAt:  env.StoredAt,
		ExpiresAt: env.ExpiresAt,
	}, nil
}

func (rc *RedisCache) Set(entry *cache.Entry) error {
	raw, err := json.Marshal(redisEnvelope{
		Value:     entry.Value,
		StoredAt:  entry.StoredAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("redis envelope encode: %w", err)
	}

	if err := rc.client.SetBytes(redisKeyPrefix+entry.Key, raw, staleRetention); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (rc *RedisCache) Delete(key string) error {
	return rc.client.Delete(redisKeyPrefix + key)
}

func (rc *RedisCache) Has(key string) (bool, error) {
	n, err := rc.client.Exists(redisKeyPrefix + key)
	return n > 0, err
}

func (rc *RedisCache) Keys(prefix string) ([]string, error) {
	raw, err := rc.client.Keys(redisKeyPrefix + prefix + "*")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		trimmed := strings.TrimPrefix(k, redisKeyPrefix)
		if trimmed == strings.TrimPrefix(probeKey, redisKeyPrefix) {
			continue
		}
		keys = append(keys, trimmed)
	}
	return keys, nil
}

func (rc *RedisCache) Clear() error {
	keys, err := rc.client.Keys(redisKeyPrefix + "*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := rc.client.Delete(keys...); err != nil {
			return err
		}
	}
	rc.hits.Store(0)
	rc.misses.Store(0)
	return nil
}

func (rc *RedisCache) Stats() cache.LayerStats {
	hits := rc.hits.Load()
	misses := rc.misses.Load()

	keys, _ := rc.client.Keys(redisKeyPrefix + "*")
	used, _ := rc.UsedBytes()

	return cache.LayerStats{
		Name:      "Redis",
		Objects:   len(keys),
		SizeBytes: used,
		Hits:      hits,
		Misses:    misses,
		HitRate:   cache.ComputeHitRate(hits, misses),
	}
}

// UsedBytes sums key and value lengths across all entries, scaled by a fixed
// overhead factor approximating serialization cost.
func (rc *RedisCache) UsedBytes() (int64, error) {
	keys, err := rc.client.Keys(redisKeyPrefix + "*")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		n, err := rc.client.StrLen(key)
		if err != nil {
			continue
		}
		total += (int64(len(key)) + n) * encodingOverheadFactor
	}
	return total, nil
}

// ProbeWrite writes a throwaway payload of the given size. Used by capacity
// detection; the payload is rolled back immediately via ProbeRollback.
func (rc *RedisCache) ProbeWrite(size int64) error {
	payload := make([]byte, size)
	return rc.client.SetBytes(probeKey, payload, time.Minute)
}

// ProbeRollback removes the capacity-probe payload.
func (rc *RedisCache) ProbeRollback() error {
	return rc.client.Delete(probeKey)
}
