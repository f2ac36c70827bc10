package services

import (
	"context"
	"time"

	"cache-service/internal/services/cache"
)

// usedBytesReporter is implemented by stores that can measure their own
// footprint more precisely than Stats() reports.
type usedBytesReporter interface {
	UsedBytes() (int64, error)
}

type ctxUsedBytesReporter interface {
	UsedBytes(ctx context.Context) (int64, error)
}

type syncMeter struct {
	store cache.SyncStore
}

// NewSyncMeter measures a synchronous tier, preferring the store's own
// usage accounting over its stats snapshot.
func NewSyncMeter(store cache.SyncStore) TierMeter {
	return &syncMeter{store: store}
}

func (m *syncMeter) Name() string {
	return m.store.Name()
}

func (m *syncMeter) UsedBytes() (int64, error) {
	if r, ok := m.store.(usedBytesReporter); ok {
		return r.UsedBytes()
	}
	return m.store.Stats().SizeBytes, nil
}

type asyncMeter struct {
	store   cache.AsyncStore
	timeout time.Duration
}

// NewAsyncMeter measures the durable tier. Without a native usage signal it
// reports a best-effort zero rather than failing the check cycle.
func NewAsyncMeter(store cache.AsyncStore, timeout time.Duration) TierMeter {
	return &asyncMeter{store: store, timeout: timeout}
}

func (m *asyncMeter) Name() string {
	return m.store.Name()
}

func (m *asyncMeter) UsedBytes() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if r, ok := m.store.(ctxUsedBytesReporter); ok {
		return r.UsedBytes(ctx)
	}
	if stats, err := m.store.Stats(ctx); err == nil {
		return stats.SizeBytes, nil
	}
	return 0, nil
}
