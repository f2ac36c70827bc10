package cache

import (
	"context"
	"time"
)

// Entry is a single cached value. Entries are copied between tiers, never
// shared, so mutating a promoted entry cannot corrupt a deeper tier.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry's logical TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// RemainingTTL returns the time until logical expiry, or 0 if already expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Value = make([]byte, len(e.Value))
	copy(cp.Value, e.Value)
	return &cp
}

// SyncStore is the contract for the fast, bounded tiers. Implementations own
// their storage as a critical section; a miss is (nil, nil), not an error.
// Stale entries are returned as-is so callers can decide whether expiry
// matters for the read at hand.
type SyncStore interface {
	Name() string
	Get(key string) (*Entry, error)
	Set(entry *Entry) error
	Delete(key string) error
	Has(key string) (bool, error)
	Keys(prefix string) ([]string, error)
	Clear() error
	Stats() LayerStats
}

// AsyncStore is the contract for the slow durable tier. Every call crosses a
// network boundary and may fail transiently; callers must tolerate errors.
type AsyncStore interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (LayerStats, error)
}

// LayerStats describes one tier's current shape and hit ratio.
type LayerStats struct {
	Name      string  `json:"name"`
	Objects   int     `json:"objects"`
	SizeBytes int64   `json:"sizeBytes"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hitRate"`
}

// ComputeHitRate computes a percentage from raw counters.
func ComputeHitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
