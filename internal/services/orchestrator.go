package services

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"cache-service/internal/services/cache"
	"cache-service/internal/utils"
)

// FetchFunc loads a value from its source of truth on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// PromotionMode controls what happens to a deeper tier's copy after a hit
// is promoted upward.
type PromotionMode int

const (
	// PromoteDefault picks per tier: move out of the bounded warm tier,
	// copy from the durable tier.
	PromoteDefault PromotionMode = iota
	// PromoteMove deletes the deeper copy after writing upward, freeing
	// space in the bounded tier.
	PromoteMove
	// PromoteCopy retains the deeper copy, appropriate when that tier is
	// the copy of record.
	PromoteCopy
)

// Options tune a single Get call.
type Options struct {
	// ForceRefresh bypasses all tier reads and always fetches.
	ForceRefresh bool
	// DisableCache skips every tier write-back; the fetched value is
	// returned without being stored anywhere.
	DisableCache bool
	// TTL overrides the orchestrator's base TTL for this entry.
	TTL time.Duration
}

// Result is what a Get resolves to. TTL == 0 with FromCache == true signals
// a stale-fallback read.
type Result struct {
	Data      []byte        `json:"data"`
	FromCache bool          `json:"fromCache"`
	Timestamp time.Time     `json:"timestamp"`
	CacheKey  string        `json:"cacheKey"`
	TTL       time.Duration `json:"ttl"`
}

// OrchestratorConfig wires the orchestrator's collaborators and policy.
type OrchestratorConfig struct {
	Tier1 cache.SyncStore
	Tier2 cache.SyncStore
	Tier3 cache.AsyncStore

	BaseTTL time.Duration

	// Tier2Promotion defaults to PromoteMove, Tier3Promotion to
	// PromoteCopy: moving out of the bounded warm tier frees its space,
	// while the durable tier keeps the copy of record for fallback.
	Tier2Promotion PromotionMode
	Tier3Promotion PromotionMode

	// SingleFlight coalesces concurrent misses per key. Off by default;
	// without it two simultaneous misses may both invoke the fetch.
	SingleFlight bool

	Cleanup CleanupCoordinator
	Quality QualityChecker
	Metrics *utils.Metrics
}

// Orchestrator coordinates lookup, promotion, population and stale fallback
// across the three tiers. Tier-local failures degrade to misses or no-ops;
// only fetch failures without a stale copy reach the caller.
type Orchestrator struct {
	tier1 cache.SyncStore
	tier2 cache.SyncStore
	tier3 cache.AsyncStore

	baseTTL        time.Duration
	tier2Promotion PromotionMode
	tier3Promotion PromotionMode

	coalesce bool
	group    singleflight.Group

	cleanup CleanupCoordinator
	quality QualityChecker
	metrics *utils.Metrics
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = DefaultBaseTTL
	}
	if cfg.Tier2Promotion == PromoteDefault {
		cfg.Tier2Promotion = PromoteMove
	}
	if cfg.Tier3Promotion == PromoteDefault {
		cfg.Tier3Promotion = PromoteCopy
	}
	return &Orchestrator{
		tier1:          cfg.Tier1,
		tier2:          cfg.Tier2,
		tier3:          cfg.Tier3,
		baseTTL:        cfg.BaseTTL,
		tier2Promotion: cfg.Tier2Promotion,
		tier3Promotion: cfg.Tier3Promotion,
		coalesce:       cfg.SingleFlight,
		cleanup:        cfg.Cleanup,
		quality:        cfg.Quality,
		metrics:        cfg.Metrics,
	}
}

// Get resolves a key through the tiers, fetching on a full miss. Lookup
// order is strictly tier1 → tier2 → tier3; a hit short-circuits deeper
// probes. On fetch failure a stale copy from tier2 or tier3 is returned
// with TTL=0 instead of an error.
func (o *Orchestrator) Get(ctx context.Context, key string, fetch FetchFunc, opts *Options) (*Result, error) {
	if key == "" {
		return nil, &cache.ValidationError{Msg: "cache key must not be empty"}
	}
	if fetch == nil {
		return nil, &cache.ValidationError{Msg: "fetch function must not be nil"}
	}
	if opts == nil {
		opts = &Options{}
	}

	if !opts.ForceRefresh {
		if res := o.lookup(ctx, key); res != nil {
			return res, nil
		}
	}

	if o.coalesce {
		v, err, _ := o.group.Do(key, func() (interface{}, error) {
			return o.fetchAndPopulate(ctx, key, fetch, opts)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Result), nil
	}

	return o.fetchAndPopulate(ctx, key, fetch, opts)
}

func (o *Orchestrator) lookup(ctx context.Context, key string) *Result {
	now := time.Now()

	entry, err := o.tier1.Get(key)
	if err != nil {
		log.Printf("%v", &cache.TierReadError{Tier: o.tier1.Name(), Err: err})
	}
	if entry != nil && !entry.Expired(now) {
		return o.resolveHit(key, o.tier1.Name(), entry, now)
	}

	entry, err = o.tier2.Get(key)
	if err != nil {
		log.Printf("%v", &cache.TierReadError{Tier: o.tier2.Name(), Err: err})
	}
	if entry != nil && !entry.Expired(now) {
		o.promoteFromTier2(entry)
		return o.resolveHit(key, o.tier2.Name(), entry, now)
	}

	entry, err = o.tier3.Get(ctx, key)
	if err != nil {
		log.Printf("%v", &cache.TierReadError{Tier: o.tier3.Name(), Err: err})
	}
	if entry != nil && !entry.Expired(now) {
		o.promoteFromTier3(ctx, entry)
		return o.resolveHit(key, o.tier3.Name(), entry, now)
	}

	o.recordMiss(key)
	return nil
}

func (o *Orchestrator) resolveHit(key, tier string, entry *cache.Entry, now time.Time) *Result {
	o.recordHit(key, tier)
	o.checkQuality(key, entry.Value)

	return &Result{
		Data:      entry.Value,
		FromCache: true,
		Timestamp: now,
		CacheKey:  key,
		TTL:       entry.RemainingTTL(now),
	}
}

// promoteFromTier2 writes the hit into tier1 and, in move mode, deletes the
// tier2 copy to free the bounded tier's space.
func (o *Orchestrator) promoteFromTier2(entry *cache.Entry) {
	if err := o.tier1.Set(entry.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier1.Name(), Err: err})
		return
	}
	if o.tier2Promotion == PromoteMove {
		if err := o.tier2.Delete(entry.Key); err != nil {
			log.Printf("%v", &cache.TierWriteError{Tier: o.tier2.Name(), Err: err})
		}
	}
}

// promoteFromTier3 copies the hit into tier2 and tier1. The tier3 copy is
// retained in copy mode since it is the durable copy of record.
func (o *Orchestrator) promoteFromTier3(ctx context.Context, entry *cache.Entry) {
	if err := o.tier2.Set(entry.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier2.Name(), Err: err})
	}
	if err := o.tier1.Set(entry.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier1.Name(), Err: err})
	}
	if o.tier3Promotion == PromoteMove {
		if err := o.tier3.Delete(ctx, entry.Key); err != nil {
			log.Printf("%v", &cache.TierWriteError{Tier: o.tier3.Name(), Err: err})
		}
	}
}

func (o *Orchestrator) fetchAndPopulate(ctx context.Context, key string, fetch FetchFunc, opts *Options) (*Result, error) {
	start := time.Now()
	data, err := fetch(ctx)
	if o.metrics != nil {
		o.metrics.RecordFetchLatency(time.Since(start))
	}
	if err != nil {
		if stale := o.staleFallback(ctx, key); stale != nil {
			log.Printf("Fetch failed for %s, serving stale copy: %v", key, err)
			return stale, nil
		}
		return nil, err
	}

	now := time.Now()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = o.baseTTL
	}

	if !opts.DisableCache {
		o.populate(ctx, key, data, now, ttl)
	}

	o.checkQuality(key, data)

	return &Result{
		Data:      data,
		FromCache: false,
		Timestamp: now,
		CacheKey:  key,
		TTL:       ttl,
	}, nil
}

func (o *Orchestrator) populate(ctx context.Context, key string, data []byte, now time.Time, ttl time.Duration) {
	base := cache.Entry{Key: key, Value: data, StoredAt: now}

	t1 := base
	t1.ExpiresAt = now.Add(ttl)
	if err := o.tier1.Set(t1.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier1.Name(), Err: err})
	}

	t2 := base
	t2.ExpiresAt = now.Add(WarmTierTTL(ttl))
	if err := o.tier2.Set(t2.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier2.Name(), Err: err})
	}

	t3 := base
	t3.ExpiresAt = now.Add(ColdTierTTL(ttl))
	if err := o.tier3.Set(ctx, t3.Clone()); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier3.Name(), Err: err})
	}
}

// staleFallback reads tier2 then tier3 ignoring expiry. A found copy is
// returned with TTL=0 as the staleness signal.
func (o *Orchestrator) staleFallback(ctx context.Context, key string) *Result {
	entry, err := o.tier2.Get(key)
	if err != nil {
		log.Printf("%v", &cache.TierReadError{Tier: o.tier2.Name(), Err: err})
	}
	if entry == nil {
		entry, err = o.tier3.Get(ctx, key)
		if err != nil {
			log.Printf("%v", &cache.TierReadError{Tier: o.tier3.Name(), Err: err})
		}
	}
	if entry == nil {
		return nil
	}

	o.recordHit(key, "STALE")
	return &Result{
		Data:      entry.Value,
		FromCache: true,
		Timestamp: time.Now(),
		CacheKey:  key,
		TTL:       0,
	}
}

// InvalidatePattern removes all keys with the given prefix from tier1 and
// tier2 and returns how many were removed. The durable tier does not
// support pattern listing; its entries age out via retention instead, and
// it always contributes zero to the count.
func (o *Orchestrator) InvalidatePattern(prefix string) (int, error) {
	if prefix == "" {
		return 0, &cache.ValidationError{Msg: "pattern prefix must not be empty"}
	}

	removed := 0
	for _, store := range []cache.SyncStore{o.tier1, o.tier2} {
		keys, err := store.Keys(prefix)
		if err != nil {
			log.Printf("%v", &cache.TierReadError{Tier: store.Name(), Err: err})
			continue
		}
		for _, key := range keys {
			if err := store.Delete(key); err != nil {
				log.Printf("%v", &cache.TierWriteError{Tier: store.Name(), Err: err})
				continue
			}
			removed++
		}
	}

	log.Printf("Invalidated %d entries for pattern %q (durable tier not scanned)", removed, prefix)
	return removed, nil
}

// Delete removes a key from every tier.
func (o *Orchestrator) Delete(ctx context.Context, key string) error {
	if err := o.tier1.Delete(key); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier1.Name(), Err: err})
	}
	if err := o.tier2.Delete(key); err != nil {
		log.Printf("%v", &cache.TierWriteError{Tier: o.tier2.Name(), Err: err})
	}
	return o.tier3.Delete(ctx, key)
}

// Clear empties every tier.
func (o *Orchestrator) Clear(ctx context.Context) error {
	if err := o.tier1.Clear(); err != nil {
		return err
	}
	if err := o.tier2.Clear(); err != nil {
		return err
	}
	return o.tier3.Clear(ctx)
}

// Stats returns per-tier statistics.
func (o *Orchestrator) Stats(ctx context.Context) map[string]cache.LayerStats {
	stats := map[string]cache.LayerStats{
		o.tier1.Name(): o.tier1.Stats(),
		o.tier2.Name(): o.tier2.Stats(),
	}
	if s, err := o.tier3.Stats(ctx); err == nil {
		stats[o.tier3.Name()] = s
	} else {
		log.Printf("Stats unavailable for %s: %v", o.tier3.Name(), err)
		stats[o.tier3.Name()] = cache.LayerStats{Name: o.tier3.Name()}
	}
	return stats
}

func (o *Orchestrator) recordHit(key, tier string) {
	if o.metrics != nil {
		o.metrics.IncrementCacheHits(tier)
	}
	if o.cleanup != nil {
		o.cleanup.TrackAccess(key, tier)
	}
}

func (o *Orchestrator) recordMiss(key string) {
	if o.metrics != nil {
		o.metrics.IncrementCacheMisses("ALL")
	}
}

// checkQuality validates returned data off the caller's path. Failures are
// logged, never surfaced.
func (o *Orchestrator) checkQuality(key string, data []byte) {
	if o.quality == nil {
		return
	}
	value := make([]byte, len(data))
	copy(value, data)
	go func() {
		if err := o.quality.CheckDataQuality(value); err != nil {
			log.Printf("Quality check failed for %s: %v", key, err)
		}
	}()
}
