package services

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cache-service/internal/services/cache"
)

// CleanupEvent reports eviction progress to subscribers.
type CleanupEvent struct {
	Tier      string    `json:"tier"`
	Removed   int       `json:"removed"`
	Planned   int       `json:"planned"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// CleanupCoordinator evicts entries when a tier crosses a capacity
// threshold and tracks access recency to decide what goes first.
type CleanupCoordinator interface {
	ForceCleanup(tier string) (int, error)
	TrackAccess(key, tier string)
	SubscribeProgress(fn func(CleanupEvent)) uuid.UUID
	Unsubscribe(id uuid.UUID)
	Shutdown()
}

// LRUCleanupCoordinator evicts the least recently accessed fraction of a
// tier's keys. Keys never seen by TrackAccess sort oldest and go first.
type LRUCleanupCoordinator struct {
	mu            sync.Mutex
	stores        map[string]cache.SyncStore
	access        map[string]map[string]time.Time
	evictFraction float64
	subs          map[uuid.UUID]func(CleanupEvent)
	closed        bool
	now           func() time.Time
}

func NewLRUCleanupCoordinator(evictFraction float64) *LRUCleanupCoordinator {
	if evictFraction <= 0 || evictFraction > 1 {
		evictFraction = 0.25
	}
	return &LRUCleanupCoordinator{
		stores:        make(map[string]cache.SyncStore),
		access:        make(map[string]map[string]time.Time),
		evictFraction: evictFraction,
		subs:          make(map[uuid.UUID]func(CleanupEvent)),
		now:           time.Now,
	}
}

// RegisterStore makes a tier eligible for eviction. The durable tier is
// deliberately never registered; it ages out via retention instead.
func (c *LRUCleanupCoordinator) RegisterStore(tier string, store cache.SyncStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[tier] = store
	if _, ok := c.access[tier]; !ok {
		c.access[tier] = make(map[string]time.Time)
	}
}

// TrackAccess records access recency for the eviction heuristic.
func (c *LRUCleanupCoordinator) TrackAccess(key, tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.access[tier]; !ok {
		c.access[tier] = make(map[string]time.Time)
	}
	c.access[tier][key] = c.now()
}

// ForceCleanup evicts the configured fraction of least recently accessed
// keys from the given tier, or from every registered tier when tier is
// empty. Returns the number of removed entries.
func (c *LRUCleanupCoordinator) ForceCleanup(tier string) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, fmt.Errorf("cleanup coordinator is shut down")
	}
	targets := make(map[string]cache.SyncStore)
	if tier == "" {
		for name, store := range c.stores {
			targets[name] = store
		}
	} else if store, ok := c.stores[tier]; ok {
		targets[tier] = store
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		// Unknown tiers are a no-op, not an error: the monitor passes
		// every tier it sees, including ones we never evict.
		return 0, nil
	}

	total := 0
	for name, store := range targets {
		removed, err := c.cleanupStore(name, store)
		if err != nil {
			return total, err
		}
		total += removed
	}
	return total, nil
}

func (c *LRUCleanupCoordinator) cleanupStore(tier string, store cache.SyncStore) (int, error) {
	keys, err := store.Keys("")
	if err != nil {
		return 0, fmt.Errorf("listing %s keys: %w", tier, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	recency := c.access[tier]
	ordered := append([]string(nil), keys...)
	sort.Slice(ordered, func(i, j int) bool {
		return recency[ordered[i]].Before(recency[ordered[j]])
	})
	c.mu.Unlock()

	planned := int(math.Ceil(float64(len(ordered)) * c.evictFraction))
	removed := 0
	for _, key := range ordered[:planned] {
		if err := store.Delete(key); err != nil {
			log.Printf("Cleanup: failed to evict %s from %s: %v", key, tier, err)
			continue
		}
		removed++

		c.mu.Lock()
		delete(c.access[tier], key)
		c.mu.Unlock()

		if removed%100 == 0 {
			c.publish(CleanupEvent{Tier: tier, Removed: removed, Planned: planned, Timestamp: c.now()})
		}
	}

	c.publish(CleanupEvent{Tier: tier, Removed: removed, Planned: planned, Completed: true, Timestamp: c.now()})
	log.Printf("Cleanup: evicted %d/%d entries from %s", removed, planned, tier)
	return removed, nil
}

// SubscribeProgress registers a progress callback and returns its handle.
func (c *LRUCleanupCoordinator) SubscribeProgress(fn func(CleanupEvent)) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.New()
	c.subs[id] = fn
	return id
}

// Unsubscribe removes a progress subscription.
func (c *LRUCleanupCoordinator) Unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Shutdown drops tracked state and refuses further work.
func (c *LRUCleanupCoordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.access = make(map[string]map[string]time.Time)
	c.subs = make(map[uuid.UUID]func(CleanupEvent))
}

func (c *LRUCleanupCoordinator) publish(event CleanupEvent) {
	c.mu.Lock()
	subs := make([]func(CleanupEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}
