package caches

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cache-service/internal/services/cache"
)

const cacheFileExt = ".cache"

// FileSystemCache is an alternate warm-tier backend for deployments without
// Redis. Entries are JSON envelopes on disk; filenames are hex-encoded keys
// so prefix listing survives any key alphabet. Files are retained past
// logical expiry (up to the stale-retention window) for fallback reads.
type FileSystemCache struct {
	basePath    string
	maxSize     int64
	currentSize int64
	mu          sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

type fileEnvelope struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewFileSystemCache(basePath string, maxSizeBytes int64, sweepInterval time.Duration) *FileSystemCache {
	os.MkdirAll(basePath, 0o755)

	fsc := &FileSystemCache{
		basePath:      basePath,
		maxSize:       maxSizeBytes,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}

	fsc.recalculateSize()
	go fsc.sweepStale()

	return fsc
}

func (fsc *FileSystemCache) Name() string {
	return "FILESYSTEM"
}

func (fsc *FileSystemCache) Get(key string) (*cache.Entry, error) {
	raw, err := os.ReadFile(fsc.pathFor(key))
	if os.IsNotExist(err) {
		fsc.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		fsc.misses.Add(1)
		return nil, fmt.Errorf("file cache read: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fsc.misses.Add(1)
		return nil, fmt.Errorf("file cache decode: %w", err)
	}

	// Access recency feeds eviction ordering.
	now := time.Now()
	os.Chtimes(fsc.pathFor(key), now, now)

	fsc.hits.Add(1)
	return &cache.Entry{
		Key:       env.Key,
		Value:     env.Value,
		StoredAt:  env.StoredAt,
		ExpiresAt: env.ExpiresAt,
	}, nil
}

func (fsc *FileSystemCache) Set(entry *cache.Entry) error {
	raw, err := json.Marshal(fileEnvelope{
		Key:       entry.Key,
		Value:     entry.Value,
		StoredAt:  entry.StoredAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("file cache encode: %w", err)
	}

	fsc.mu.Lock()
	defer fsc.mu.Unlock()

	size := int64(len(raw))
	for atomic.LoadInt64(&fsc.currentSize)+size > fsc.maxSize {
		if !fsc.evictOldestFile() {
			return fmt.Errorf("unable to free space for entry of size %d", size)
		}
	}

	path := fsc.pathFor(entry.Key)
	if stat, err := os.Stat(path); err == nil {
		atomic.AddInt64(&fsc.currentSize, -stat.Size())
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("file cache write: %w", err)
	}
	atomic.AddInt64(&fsc.currentSize, size)

	return nil
}

func (fsc *FileSystemCache) Delete(key string) error {
	path := fsc.pathFor(key)
	if stat, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err == nil {
			atomic.AddInt64(&fsc.currentSize, -stat.Size())
		}
	}
	return nil
}

func (fsc *FileSystemCache) Has(key string) (bool, error) {
	_, err := os.Stat(fsc.pathFor(key))
	return !os.IsNotExist(err), nil
}

func (fsc *FileSystemCache) Keys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != cacheFileExt {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), cacheFileExt)
		decoded, decErr := hex.DecodeString(name)
		if decErr != nil {
			return nil
		}
		key := string(decoded)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func (fsc *FileSystemCache) Clear() error {
	fsc.mu.Lock()
	defer fsc.mu.Unlock()

	if err := os.RemoveAll(fsc.basePath); err != nil {
		return err
	}
	os.MkdirAll(fsc.basePath, 0o755)
	atomic.StoreInt64(&fsc.currentSize, 0)
	fsc.hits.Store(0)
	fsc.misses.Store(0)
	return nil
}

func (fsc *FileSystemCache) Stats() cache.LayerStats {
	hits := fsc.hits.Load()
	misses := fsc.misses.Load()

	count := 0
	filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == cacheFileExt {
			count++
		}
		return nil
	})

	return cache.LayerStats{
		Name:      "FileSystem",
		Objects:   count,
		SizeBytes: atomic.LoadInt64(&fsc.currentSize),
		Hits:      hits,
		Misses:    misses,
		HitRate:   cache.ComputeHitRate(hits, misses),
	}
}

// UsedBytes reports the on-disk footprint of all cache files.
func (fsc *FileSystemCache) UsedBytes() (int64, error) {
	var total int64
	err := filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == cacheFileExt {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// ProbeWrite writes a throwaway payload of the given size for capacity
// detection.
func (fsc *FileSystemCache) ProbeWrite(size int64) error {
	return os.WriteFile(fsc.probePath(), make([]byte, size), 0o644)
}

// ProbeRollback removes the capacity-probe payload.
func (fsc *FileSystemCache) ProbeRollback() error {
	err := os.Remove(fsc.probePath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close stops the background retention sweep.
func (fsc *FileSystemCache) Close() {
	fsc.stopOnce.Do(func() { close(fsc.stop) })
}

func (fsc *FileSystemCache) pathFor(key string) string {
	return filepath.Join(fsc.basePath, hex.EncodeToString([]byte(key))+cacheFileExt)
}

func (fsc *FileSystemCache) probePath() string {
	return filepath.Join(fsc.basePath, "__probe__.tmp")
}

func (fsc *FileSystemCache) recalculateSize() {
	var total int64
	filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == cacheFileExt {
			total += info.Size()
		}
		return nil
	})
	atomic.StoreInt64(&fsc.currentSize, total)
}

// evictOldestFile removes the least recently touched file. Caller holds mu.
func (fsc *FileSystemCache) evictOldestFile() bool {
	var oldestPath string
	var oldestTime time.Time

	filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == cacheFileExt {
			if oldestPath == "" || info.ModTime().Before(oldestTime) {
				oldestPath = path
				oldestTime = info.ModTime()
			}
		}
		return nil
	})

	if oldestPath == "" {
		return false
	}

	if stat, err := os.Stat(oldestPath); err == nil {
		if os.Remove(oldestPath) == nil {
			atomic.AddInt64(&fsc.currentSize, -stat.Size())
			return true
		}
	}
	return false
}

// sweepStale removes files past the stale-retention window. Logical expiry
// is deliberately ignored here so expired entries remain usable as fallback.
func (fsc *FileSystemCache) sweepStale() {
	ticker := time.NewTicker(fsc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fsc.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleRetention)
			var stale []string

			filepath.Walk(fsc.basePath, func(path string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() && filepath.Ext(path) == cacheFileExt {
					if info.ModTime().Before(cutoff) {
						stale = append(stale, path)
					}
				}
				return nil
			})

			for _, path := range stale {
				if stat, err := os.Stat(path); err == nil {
					if os.Remove(path) == nil {
						atomic.AddInt64(&fsc.currentSize, -stat.Size())
					}
				}
			}

			if len(stale) > 0 {
				log.Printf("File cache: swept %d stale files", len(stale))
			}
		}
	}
}
