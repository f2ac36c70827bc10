package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeter struct {
	name string
	used int64
	err  error
}

func (m *fakeMeter) Name() string { return m.name }

func (m *fakeMeter) UsedBytes() (int64, error) { return m.used, m.err }

type fakeCleanup struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeCleanup) ForceCleanup(tier string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tier)
	return 1, nil
}

func (c *fakeCleanup) TrackAccess(key, tier string) {}

func (c *fakeCleanup) SubscribeProgress(fn func(CleanupEvent)) uuid.UUID { return uuid.New() }

func (c *fakeCleanup) Unsubscribe(id uuid.UUID) {}

func (c *fakeCleanup) Shutdown() {}

func (c *fakeCleanup) cleaned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func fixedQuota(tier string, bytes int64) *QuotaDetector {
	d := NewQuotaDetector(time.Hour)
	d.Register(tier, func() QuotaEstimate {
		return QuotaEstimate{EstimatedBytes: bytes, Source: SourceAPIReported, Reliability: ReliabilityAPIReported}
	})
	return d
}

func TestClassifyUsage(t *testing.T) {
	assert.Equal(t, LevelHealthy, ClassifyUsage(0))
	assert.Equal(t, LevelHealthy, ClassifyUsage(50))
	assert.Equal(t, LevelInfo, ClassifyUsage(70))
	assert.Equal(t, LevelWarning, ClassifyUsage(85))
	assert.Equal(t, LevelCritical, ClassifyUsage(95))
	assert.Equal(t, LevelCritical, ClassifyUsage(96))
	assert.Equal(t, LevelEmergency, ClassifyUsage(98))
	assert.Equal(t, LevelEmergency, ClassifyUsage(99))
}

func TestCheckNowClassifiesTiers(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters: []TierMeter{&fakeMeter{name: "MEMORY", used: 96}},
		Quota:  fixedQuota("MEMORY", 100),
	})

	status := monitor.CheckNow()
	assert.Equal(t, LevelCritical, status.Overall)

	snap := status.Tiers["MEMORY"]
	assert.Equal(t, int64(96), snap.UsedBytes)
	assert.Equal(t, int64(100), snap.QuotaBytes)
	assert.InDelta(t, 96.0, snap.Percentage, 0.001)
	assert.Equal(t, LevelCritical, snap.Level)
}

func TestOverallIsWorstTier(t *testing.T) {
	quota := NewQuotaDetector(time.Hour)
	quota.Register("MEMORY", func() QuotaEstimate { return QuotaEstimate{EstimatedBytes: 100} })
	quota.Register("REDIS", func() QuotaEstimate { return QuotaEstimate{EstimatedBytes: 100} })

	monitor := NewHealthMonitor(MonitorConfig{
		Meters: []TierMeter{
			&fakeMeter{name: "MEMORY", used: 10},
			&fakeMeter{name: "REDIS", used: 99},
		},
		Quota: quota,
	})

	status := monitor.CheckNow()
	assert.Equal(t, LevelEmergency, status.Overall)
	assert.Equal(t, LevelHealthy, status.Tiers["MEMORY"].Level)
}

func TestMeterFailureIsIsolated(t *testing.T) {
	quota := NewQuotaDetector(time.Hour)
	quota.Register("REDIS", func() QuotaEstimate { return QuotaEstimate{EstimatedBytes: 100} })

	monitor := NewHealthMonitor(MonitorConfig{
		Meters: []TierMeter{
			&fakeMeter{name: "MEMORY", err: fmt.Errorf("probe failed")},
			&fakeMeter{name: "REDIS", used: 50},
		},
		Quota: quota,
	})

	status := monitor.CheckNow()
	assert.NotEmpty(t, status.Tiers["MEMORY"].Err)
	assert.Equal(t, LevelHealthy, status.Tiers["MEMORY"].Level)
	assert.Equal(t, int64(50), status.Tiers["REDIS"].UsedBytes)
}

func TestWarningDedupWithinWindow(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:      []TierMeter{&fakeMeter{name: "MEMORY", used: 90}},
		Quota:       fixedQuota("MEMORY", 100),
		DedupWindow: time.Minute,
	})

	monitor.CheckNow()
	monitor.CheckNow()
	monitor.CheckNow()

	assert.Len(t, monitor.Warnings(), 1, "repeat crossings of one tier+level dedupe inside the window")
}

func TestWarningEmittedAgainAfterWindow(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:      []TierMeter{&fakeMeter{name: "MEMORY", used: 90}},
		Quota:       fixedQuota("MEMORY", 100),
		DedupWindow: time.Minute,
	})

	current := time.Now()
	monitor.now = func() time.Time { return current }

	monitor.CheckNow()
	current = current.Add(2 * time.Minute)
	monitor.CheckNow()

	assert.Len(t, monitor.Warnings(), 2)
}

func TestWarningHistoryIsBounded(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:       []TierMeter{&fakeMeter{name: "MEMORY", used: 90}},
		Quota:        fixedQuota("MEMORY", 100),
		DedupWindow:  time.Nanosecond,
		HistoryLimit: 3,
	})

	current := time.Now()
	monitor.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		current = current.Add(time.Second)
		monitor.CheckNow()
	}

	assert.Len(t, monitor.Warnings(), 3)
}

func TestSubscribeHealthPushesCurrentStatus(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters: []TierMeter{&fakeMeter{name: "MEMORY", used: 10}},
		Quota:  fixedQuota("MEMORY", 100),
	})
	monitor.CheckNow()

	var got []HealthStatus
	id := monitor.SubscribeHealth(func(s HealthStatus) { got = append(got, s) })

	require.Len(t, got, 1, "current status is pushed on subscribe")
	assert.Equal(t, LevelHealthy, got[0].Overall)

	monitor.CheckNow()
	assert.Len(t, got, 2)

	monitor.Unsubscribe(id)
	monitor.CheckNow()
	assert.Len(t, got, 2)
}

func TestWarningSubscribersGetFreshCrossingsOnly(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:      []TierMeter{&fakeMeter{name: "MEMORY", used: 90}},
		Quota:       fixedQuota("MEMORY", 100),
		DedupWindow: time.Minute,
	})

	var got []Warning
	monitor.SubscribeWarnings(func(w Warning) { got = append(got, w) })

	monitor.CheckNow()
	monitor.CheckNow()

	require.Len(t, got, 1)
	assert.Equal(t, LevelWarning, got[0].Level)
	assert.Equal(t, "MEMORY", got[0].Tier)
	assert.NotEmpty(t, got[0].Recommendations)
}

func TestAutoCleanupTriggersAtCritical(t *testing.T) {
	cleanup := &fakeCleanup{}
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:      []TierMeter{&fakeMeter{name: "MEMORY", used: 97}},
		Quota:       fixedQuota("MEMORY", 100),
		Cleanup:     cleanup,
		AutoCleanup: true,
	})

	monitor.CheckNow()
	assert.Equal(t, []string{"MEMORY"}, cleanup.cleaned())
}

func TestAutoCleanupDisabled(t *testing.T) {
	cleanup := &fakeCleanup{}
	monitor := NewHealthMonitor(MonitorConfig{
		Meters:      []TierMeter{&fakeMeter{name: "MEMORY", used: 99}},
		Quota:       fixedQuota("MEMORY", 100),
		Cleanup:     cleanup,
		AutoCleanup: false,
	})

	monitor.CheckNow()
	assert.Empty(t, cleanup.cleaned())
}

func TestStatusReturnsDefensiveCopy(t *testing.T) {
	monitor := NewHealthMonitor(MonitorConfig{
		Meters: []TierMeter{&fakeMeter{name: "MEMORY", used: 10}},
		Quota:  fixedQuota("MEMORY", 100),
	})
	monitor.CheckNow()

	status := monitor.Status()
	status.Tiers["MEMORY"] = UsageSnapshot{Tier: "MEMORY", UsedBytes: 12345}

	assert.Equal(t, int64(10), monitor.Status().Tiers["MEMORY"].UsedBytes)
}
