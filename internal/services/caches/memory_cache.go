package caches

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cache-service/internal/services/cache"
)

// MemoryCache is the hot tier: a bounded in-process store with per-entry
// TTLs, LRU eviction under size pressure, and a periodic expiry sweep.
type MemoryCache struct {
	data        sync.Map // map[string]*cache.Entry
	meta        sync.Map // map[string]*memoryMeta
	maxSize     int64
	currentSize int64

	hits   atomic.Int64
	misses atomic.Int64

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

type memoryMeta struct {
	size       int64
	lastAccess atomic.Int64 // unix nanos
}

func NewMemoryCache(maxSizeBytes int64, sweepInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		maxSize:       maxSizeBytes,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}

	go mc.sweepExpired()

	return mc
}

func (mc *MemoryCache) Name() string {
	return "MEMORY"
}

func (mc *MemoryCache) Get(key string) (*cache.Entry, error) {
	if value, ok := mc.data.Load(key); ok {
		entry := value.(*cache.Entry)
		mc.touch(key)
		mc.hits.Add(1)
		return entry.Clone(), nil
	}

	mc.misses.Add(1)
	return nil, nil
}

func (mc *MemoryCache) Set(entry *cache.Entry) error {
	size := entrySize(entry)

	// Evict until the new entry fits.
	for atomic.LoadInt64(&mc.currentSize)+size > mc.maxSize {
		if !mc.evictLRU() {
			return fmt.Errorf("unable to free space for entry of size %d", size)
		}
	}

	if old, ok := mc.meta.Load(entry.Key); ok {
		atomic.AddInt64(&mc.currentSize, -old.(*memoryMeta).size)
	}

	meta := &memoryMeta{size: size}
	meta.lastAccess.Store(time.Now().UnixNano())
	mc.data.Store(entry.Key, entry.Clone())
	mc.meta.Store(entry.Key, meta)
	atomic.AddInt64(&mc.currentSize, size)

	return nil
}

func (mc *MemoryCache) Delete(key string) error {
	if meta, ok := mc.meta.LoadAndDelete(key); ok {
		atomic.AddInt64(&mc.currentSize, -meta.(*memoryMeta).size)
		mc.data.Delete(key)
	}
	return nil
}

func (mc *MemoryCache) Has(key string) (bool, error) {
	_, exists := mc.data.Load(key)
	return exists, nil
}

func (mc *MemoryCache) Keys(prefix string) ([]string, error) {
	var keys []string
	mc.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		return true
	})
	return keys, nil
}

func (mc *MemoryCache) Clear() error {
	mc.data.Range(func(key, value interface{}) bool {
		mc.data.Delete(key)
		return true
	})
	mc.meta.Range(func(key, value interface{}) bool {
		mc.meta.Delete(key)
		return true
	})
	atomic.StoreInt64(&mc.currentSize, 0)
	mc.hits.Store(0)
	mc.misses.Store(0)
	return nil
}

func (mc *MemoryCache) Stats() cache.LayerStats {
	hits := mc.hits.Load()
	misses := mc.misses.Load()

	objectCount := 0
	mc.data.Range(func(key, value interface{}) bool {
		objectCount++
		return true
	})

	return cache.LayerStats{
		Name:      "Memory",
		Objects:   objectCount,
		SizeBytes: atomic.LoadInt64(&mc.currentSize),
		Hits:      hits,
		Misses:    misses,
		HitRate:   cache.ComputeHitRate(hits, misses),
	}
}

// Close stops the background expiry sweep.
func (mc *MemoryCache) Close() {
	mc.stopOnce.Do(func() { close(mc.stop) })
}

func (mc *MemoryCache) touch(key string) {
	if meta, ok := mc.meta.Load(key); ok {
		meta.(*memoryMeta).lastAccess.Store(time.Now().UnixNano())
	}
}

func (mc *MemoryCache) evictLRU() bool {
	var oldestKey string
	var oldestAccess int64

	mc.meta.Range(func(key, value interface{}) bool {
		access := value.(*memoryMeta).lastAccess.Load()
		if oldestKey == "" || access < oldestAccess {
			oldestKey = key.(string)
			oldestAccess = access
		}
		return true
	})

	if oldestKey == "" {
		return false
	}

	mc.Delete(oldestKey)
	return true
}

func (mc *MemoryCache) sweepExpired() {
	ticker := time.NewTicker(mc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			now := time.Now()
			var expired []string

			mc.data.Range(func(key, value interface{}) bool {
				if value.(*cache.Entry).Expired(now) {
					expired = append(expired, key.(string))
				}
				return true
			})

			for _, key := range expired {
				mc.Delete(key)
			}

			if len(expired) > 0 {
				log.Printf("Memory cache: swept %d expired entries", len(expired))
			}
		}
	}
}

func entrySize(entry *cache.Entry) int64 {
	return int64(len(entry.Key) + len(entry.Value))
}
