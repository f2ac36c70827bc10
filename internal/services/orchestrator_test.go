package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cache-service/internal/services/cache"
)

// fakeSyncStore is an in-memory SyncStore used across the package tests.
type fakeSyncStore struct {
	name string
	mu   sync.Mutex
	data map[string]*cache.Entry

	getErr error
	setErr error
}

func newFakeSyncStore(name string) *fakeSyncStore {
	return &fakeSyncStore{name: name, data: make(map[string]*cache.Entry)}
}

func (s *fakeSyncStore) Name() string { return s.name }

func (s *fakeSyncStore) Get(key string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

func (s *fakeSyncStore) Set(entry *cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[entry.Key] = entry.Clone()
	return nil
}

func (s *fakeSyncStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeSyncStore) Has(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *fakeSyncStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeSyncStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*cache.Entry)
	return nil
}

func (s *fakeSyncStore) Stats() cache.LayerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cache.LayerStats{Name: s.name, Objects: len(s.data)}
}

func (s *fakeSyncStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// fakeAsyncStore wraps a fakeSyncStore behind the AsyncStore interface.
type fakeAsyncStore struct {
	inner *fakeSyncStore
}

func newFakeAsyncStore(name string) *fakeAsyncStore {
	return &fakeAsyncStore{inner: newFakeSyncStore(name)}
}

func (s *fakeAsyncStore) Name() string { return s.inner.name }

func (s *fakeAsyncStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	return s.inner.Get(key)
}

func (s *fakeAsyncStore) Set(ctx context.Context, entry *cache.Entry) error {
	return s.inner.Set(entry)
}

func (s *fakeAsyncStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(key)
}

func (s *fakeAsyncStore) Has(ctx context.Context, key string) (bool, error) {
	return s.inner.Has(key)
}

func (s *fakeAsyncStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(prefix)
}

func (s *fakeAsyncStore) Clear(ctx context.Context) error {
	return s.inner.Clear()
}

func (s *fakeAsyncStore) Stats(ctx context.Context) (cache.LayerStats, error) {
	return s.inner.Stats(), nil
}

type orchestratorFixture struct {
	tier1 *fakeSyncStore
	tier2 *fakeSyncStore
	tier3 *fakeAsyncStore
	orch  *Orchestrator
}

func newOrchestratorFixture(adjust func(*OrchestratorConfig)) *orchestratorFixture {
	f := &orchestratorFixture{
		tier1: newFakeSyncStore("MEMORY"),
		tier2: newFakeSyncStore("REDIS"),
		tier3: newFakeAsyncStore("OBJECT_STORE"),
	}
	cfg := OrchestratorConfig{
		Tier1:   f.tier1,
		Tier2:   f.tier2,
		Tier3:   f.tier3,
		BaseTTL: time.Hour,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	f.orch = NewOrchestrator(cfg)
	return f
}

func fetchReturning(data []byte, calls *atomic.Int32) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		if calls != nil {
			calls.Add(1)
		}
		return data, nil
	}
}

func fetchFailing(err error) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		return nil, err
	}
}

func freshEntry(key string, value []byte) *cache.Entry {
	now := time.Now()
	return &cache.Entry{Key: key, Value: value, StoredAt: now, ExpiresAt: now.Add(time.Hour)}
}

func expiredEntry(key string, value []byte) *cache.Entry {
	now := time.Now()
	return &cache.Entry{Key: key, Value: value, StoredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
}

func TestGetMissFetchesAndPopulatesAllTiers(t *testing.T) {
	f := newOrchestratorFixture(nil)
	var calls atomic.Int32

	res, err := f.orch.Get(context.Background(), "quote:AAPL", fetchReturning([]byte("payload"), &calls), nil)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []byte("payload"), res.Data)
	assert.Equal(t, time.Hour, res.TTL)
	assert.Equal(t, int32(1), calls.Load())

	for _, store := range []*fakeSyncStore{f.tier1, f.tier2} {
		has, _ := store.Has("quote:AAPL")
		assert.True(t, has, "expected %s to be populated", store.name)
	}
	has, _ := f.tier3.Has(context.Background(), "quote:AAPL")
	assert.True(t, has)
}

func TestGetDerivesDeeperTierTTLs(t *testing.T) {
	f := newOrchestratorFixture(nil)

	_, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("v"), nil), &Options{TTL: 10 * time.Minute})
	require.NoError(t, err)

	e1, _ := f.tier1.Get("k")
	e2, _ := f.tier2.Get("k")
	e3, _ := f.tier3.Get(context.Background(), "k")
	require.NotNil(t, e1)
	require.NotNil(t, e2)
	require.NotNil(t, e3)

	assert.Equal(t, 10*time.Minute, e1.ExpiresAt.Sub(e1.StoredAt))
	assert.Equal(t, 50*time.Minute, e2.ExpiresAt.Sub(e2.StoredAt))
	assert.Equal(t, 7*24*time.Hour, e3.ExpiresAt.Sub(e3.StoredAt))
}

func TestTier1HitSkipsFetch(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier1.Set(freshEntry("k", []byte("cached"))))
	var calls atomic.Int32

	res, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("fresh"), &calls), nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("cached"), res.Data)
	assert.Positive(t, res.TTL)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTier2HitPromotesByMoving(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier2.Set(freshEntry("k", []byte("warm"))))

	res, err := f.orch.Get(context.Background(), "k", fetchFailing(fmt.Errorf("should not fetch")), nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("warm"), res.Data)

	has1, _ := f.tier1.Has("k")
	has2, _ := f.tier2.Has("k")
	assert.True(t, has1, "hit should be promoted into tier1")
	assert.False(t, has2, "move promotion should remove the tier2 copy")
}

func TestTier2PromotionCopyModeRetainsSource(t *testing.T) {
	f := newOrchestratorFixture(func(cfg *OrchestratorConfig) {
		cfg.Tier2Promotion = PromoteCopy
	})
	require.NoError(t, f.tier2.Set(freshEntry("k", []byte("warm"))))

	_, err := f.orch.Get(context.Background(), "k", fetchFailing(fmt.Errorf("should not fetch")), nil)
	require.NoError(t, err)

	has2, _ := f.tier2.Has("k")
	assert.True(t, has2)
}

func TestTier3HitPromotesByCopying(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier3.Set(context.Background(), freshEntry("k", []byte("cold"))))

	res, err := f.orch.Get(context.Background(), "k", fetchFailing(fmt.Errorf("should not fetch")), nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("cold"), res.Data)

	has1, _ := f.tier1.Has("k")
	has2, _ := f.tier2.Has("k")
	has3, _ := f.tier3.Has(context.Background(), "k")
	assert.True(t, has1)
	assert.True(t, has2)
	assert.True(t, has3, "copy promotion must retain the durable copy")
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier1.Set(expiredEntry("k", []byte("old"))))
	var calls atomic.Int32

	res, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("new"), &calls), nil)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []byte("new"), res.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStaleFallbackOnFetchFailure(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier2.Set(expiredEntry("k", []byte("stale"))))

	res, err := f.orch.Get(context.Background(), "k", fetchFailing(fmt.Errorf("upstream down")), nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("stale"), res.Data)
	assert.Equal(t, time.Duration(0), res.TTL, "stale reads carry TTL zero")
}

func TestStaleFallbackPrefersTier2OverTier3(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier2.Set(expiredEntry("k", []byte("warm-stale"))))
	require.NoError(t, f.tier3.Set(context.Background(), expiredEntry("k", []byte("cold-stale"))))

	res, err := f.orch.Get(context.Background(), "k", fetchFailing(fmt.Errorf("upstream down")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("warm-stale"), res.Data)
}

func TestFetchFailureWithoutStaleCopySurfaces(t *testing.T) {
	f := newOrchestratorFixture(nil)
	fetchErr := fmt.Errorf("upstream down")

	res, err := f.orch.Get(context.Background(), "k", fetchFailing(fetchErr), nil)
	assert.Nil(t, res)
	assert.Equal(t, fetchErr, err)
}

func TestForceRefreshBypassesTiers(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier1.Set(freshEntry("k", []byte("cached"))))
	var calls atomic.Int32

	res, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("fresh"), &calls), &Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []byte("fresh"), res.Data)
	assert.Equal(t, int32(1), calls.Load())

	// Refreshed value replaces the cached one.
	e, _ := f.tier1.Get("k")
	require.NotNil(t, e)
	assert.Equal(t, []byte("fresh"), e.Value)
}

func TestDisableCacheWritesNoTier(t *testing.T) {
	f := newOrchestratorFixture(nil)

	res, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("v"), nil), &Options{DisableCache: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	assert.Equal(t, 0, f.tier1.len())
	assert.Equal(t, 0, f.tier2.len())
	assert.Equal(t, 0, f.tier3.inner.len())
}

func TestGetValidatesArguments(t *testing.T) {
	f := newOrchestratorFixture(nil)

	_, err := f.orch.Get(context.Background(), "", fetchReturning(nil, nil), nil)
	var verr *cache.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.orch.Get(context.Background(), "k", nil, nil)
	require.ErrorAs(t, err, &verr)
}

func TestTierReadErrorDegradesToMiss(t *testing.T) {
	f := newOrchestratorFixture(nil)
	f.tier1.getErr = fmt.Errorf("backend unavailable")
	var calls atomic.Int32

	res, err := f.orch.Get(context.Background(), "k", fetchReturning([]byte("v"), &calls), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), res.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSingleFlightCoalescesConcurrentMisses(t *testing.T) {
	f := newOrchestratorFixture(func(cfg *OrchestratorConfig) {
		cfg.SingleFlight = true
	})

	var calls atomic.Int32
	slowFetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orch.Get(context.Background(), "k", slowFetch, &Options{ForceRefresh: true})
			assert.NoError(t, err)
			assert.Equal(t, []byte("v"), res.Data)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses for one key should share a single fetch")
}

func TestInvalidatePattern(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier1.Set(freshEntry("quote:AAPL", []byte("a"))))
	require.NoError(t, f.tier1.Set(freshEntry("quote:MSFT", []byte("b"))))
	require.NoError(t, f.tier1.Set(freshEntry("news:AAPL", []byte("c"))))
	require.NoError(t, f.tier2.Set(freshEntry("quote:AAPL", []byte("a"))))

	removed, err := f.orch.InvalidatePattern("quote:")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	has, _ := f.tier1.Has("news:AAPL")
	assert.True(t, has, "non-matching keys stay")
}

func TestInvalidatePatternRejectsEmptyPrefix(t *testing.T) {
	f := newOrchestratorFixture(nil)
	_, err := f.orch.InvalidatePattern("")
	var verr *cache.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDeleteRemovesFromEveryTier(t *testing.T) {
	f := newOrchestratorFixture(nil)
	require.NoError(t, f.tier1.Set(freshEntry("k", []byte("v"))))
	require.NoError(t, f.tier2.Set(freshEntry("k", []byte("v"))))
	require.NoError(t, f.tier3.Set(context.Background(), freshEntry("k", []byte("v"))))

	require.NoError(t, f.orch.Delete(context.Background(), "k"))

	assert.Equal(t, 0, f.tier1.len())
	assert.Equal(t, 0, f.tier2.len())
	assert.Equal(t, 0, f.tier3.inner.len())
}

func TestGetByCategoryUsesCategoryTTL(t *testing.T) {
	f := newOrchestratorFixture(nil)

	res, err := f.orch.GetByCategory(context.Background(), CategoryOverview, "AAPL", "summary", nil, fetchReturning([]byte("v"), nil))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, res.TTL)
	assert.Equal(t, "overview:AAPL:summary", res.CacheKey)
}

func TestGetByCategoryEmbedsParamHash(t *testing.T) {
	f := newOrchestratorFixture(nil)
	params := map[string]string{"range": "1d"}

	res, err := f.orch.GetByCategory(context.Background(), CategoryTimeseries, "AAPL", "prices", params, fetchReturning([]byte("v"), nil))
	require.NoError(t, err)
	assert.Equal(t, "timeseries:AAPL:prices:"+HashParams(params), res.CacheKey)
}
