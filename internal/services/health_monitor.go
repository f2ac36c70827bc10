package services

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cache-service/internal/utils"
)

// HealthLevel is a severity band derived from a tier's usage-to-quota ratio.
type HealthLevel string

const (
	LevelHealthy   HealthLevel = "healthy"
	LevelInfo      HealthLevel = "info"
	LevelWarning   HealthLevel = "warning"
	LevelCritical  HealthLevel = "critical"
	LevelEmergency HealthLevel = "emergency"
)

var levelRank = map[HealthLevel]int{
	LevelHealthy:   0,
	LevelInfo:      1,
	LevelWarning:   2,
	LevelCritical:  3,
	LevelEmergency: 4,
}

// ClassifyUsage maps a usage percentage to its severity band.
func ClassifyUsage(percentage float64) HealthLevel {
	switch {
	case percentage >= 98:
		return LevelEmergency
	case percentage >= 95:
		return LevelCritical
	case percentage >= 85:
		return LevelWarning
	case percentage >= 70:
		return LevelInfo
	default:
		return LevelHealthy
	}
}

func worseLevel(a, b HealthLevel) HealthLevel {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// UsageSnapshot is one tier's measured state at check time. Err is set when
// probing that tier failed; the check cycle still completes for the rest.
type UsageSnapshot struct {
	Tier        string      `json:"tier"`
	UsedBytes   int64       `json:"usedBytes"`
	QuotaBytes  int64       `json:"quotaBytes"`
	Percentage  float64     `json:"percentage"`
	Level       HealthLevel `json:"level"`
	Err         string      `json:"error,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// Warning is a transient threshold-crossing notice.
type Warning struct {
	ID              uuid.UUID   `json:"id"`
	Level           HealthLevel `json:"level"`
	Tier            string      `json:"tier"`
	Percentage      float64     `json:"percentage"`
	Message         string      `json:"message"`
	Recommendations []string    `json:"recommendations"`
	Timestamp       time.Time   `json:"timestamp"`
}

// HealthStatus is the overall picture across tiers. Subscribers receive
// copies; mutating one cannot affect the monitor.
type HealthStatus struct {
	Overall   HealthLevel              `json:"overall"`
	Tiers     map[string]UsageSnapshot `json:"tiers"`
	Warnings  []Warning                `json:"warnings"`
	CheckedAt time.Time                `json:"checkedAt"`
}

// TierMeter measures one tier's current footprint.
type TierMeter interface {
	Name() string
	UsedBytes() (int64, error)
}

// MonitorConfig wires the health monitor.
type MonitorConfig struct {
	Meters        []TierMeter
	Quota         *QuotaDetector
	Cleanup       CleanupCoordinator
	CheckInterval time.Duration
	DedupWindow   time.Duration
	HistoryLimit  int
	AutoCleanup   bool
	Metrics       *utils.Metrics
}

// HealthMonitor periodically measures usage and quota per tier, classifies
// severity, publishes warnings, and triggers cleanup under pressure. All
// mutable state is owned by the monitor instance.
type HealthMonitor struct {
	meters        []TierMeter
	quota         *QuotaDetector
	cleanup       CleanupCoordinator
	checkInterval time.Duration
	dedupWindow   time.Duration
	historyLimit  int
	autoCleanup   bool
	metrics       *utils.Metrics

	mu         sync.Mutex
	current    HealthStatus
	history    []Warning
	lastWarned map[string]time.Time
	healthSubs map[uuid.UUID]func(HealthStatus)
	warnSubs   map[uuid.UUID]func(Warning)

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func NewHealthMonitor(cfg MonitorConfig) *HealthMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &HealthMonitor{
		meters:        cfg.Meters,
		quota:         cfg.Quota,
		cleanup:       cfg.Cleanup,
		checkInterval: cfg.CheckInterval,
		dedupWindow:   cfg.DedupWindow,
		historyLimit:  cfg.HistoryLimit,
		autoCleanup:   cfg.AutoCleanup,
		metrics:       cfg.Metrics,
		current:       HealthStatus{Overall: LevelHealthy},
		lastWarned:    make(map[string]time.Time),
		healthSubs:    make(map[uuid.UUID]func(HealthStatus)),
		warnSubs:      make(map[uuid.UUID]func(Warning)),
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start begins the periodic check loop. Stop it with Shutdown.
func (m *HealthMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.CheckNow()
			}
		}
	}()
}

// Shutdown stops the periodic timer. In-flight measurements finish on their
// own; their results are simply no longer awaited.
func (m *HealthMonitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// CheckNow runs one full health-check pass and returns the resulting status.
func (m *HealthMonitor) CheckNow() HealthStatus {
	now := m.now()
	snapshots := make(map[string]UsageSnapshot, len(m.meters))
	overall := LevelHealthy
	var fresh []Warning

	for _, meter := range m.meters {
		snap := m.measureTier(meter, now)
		snapshots[snap.Tier] = snap
		overall = worseLevel(overall, snap.Level)

		if m.metrics != nil {
			m.metrics.SetTierUsage(snap.Tier, snap.UsedBytes)
			m.metrics.SetTierQuota(snap.Tier, snap.QuotaBytes)
		}

		if levelRank[snap.Level] >= levelRank[LevelInfo] {
			if w, ok := m.recordWarning(snap, now); ok {
				fresh = append(fresh, w)
			}
		}
	}

	m.mu.Lock()
	m.current = HealthStatus{
		Overall:   overall,
		Tiers:     snapshots,
		Warnings:  append([]Warning(nil), m.history...),
		CheckedAt: now,
	}
	status := copyStatus(m.current)
	healthSubs := make([]func(HealthStatus), 0, len(m.healthSubs))
	for _, fn := range m.healthSubs {
		healthSubs = append(healthSubs, fn)
	}
	warnSubs := make([]func(Warning), 0, len(m.warnSubs))
	for _, fn := range m.warnSubs {
		warnSubs = append(warnSubs, fn)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetHealthLevel(levelRank[overall])
	}

	// Health subscribers are notified unconditionally, warning subscribers
	// only for newly crossed thresholds.
	for _, fn := range healthSubs {
		fn(copyStatus(status))
	}
	for _, w := range fresh {
		for _, fn := range warnSubs {
			fn(copyWarning(w))
		}
	}

	if m.autoCleanup && m.cleanup != nil && levelRank[overall] >= levelRank[LevelCritical] {
		m.triggerCleanup(snapshots)
	}

	return status
}

// measureTier probes a single tier, isolating failures so one broken tier
// never aborts the cycle.
func (m *HealthMonitor) measureTier(meter TierMeter, now time.Time) (snap UsageSnapshot) {
	snap = UsageSnapshot{Tier: meter.Name(), Level: LevelHealthy, LastUpdated: now}

	defer func() {
		if r := recover(); r != nil {
			snap.Err = fmt.Sprintf("probe panic: %v", r)
			log.Printf("Health probe for %s panicked: %v", snap.Tier, r)
		}
	}()

	used, err := meter.UsedBytes()
	if err != nil {
		snap.Err = err.Error()
		log.Printf("Health probe for %s failed: %v", snap.Tier, err)
		return snap
	}
	snap.UsedBytes = used

	if m.quota != nil {
		est := m.quota.Estimate(meter.Name())
		snap.QuotaBytes = est.EstimatedBytes
	}
	if snap.QuotaBytes > 0 {
		snap.Percentage = float64(snap.UsedBytes) / float64(snap.QuotaBytes) * 100
	}
	snap.Level = ClassifyUsage(snap.Percentage)
	return snap
}

// recordWarning dedupes repeats of the same tier+level inside the dedup
// window and appends accepted warnings to the bounded history.
func (m *HealthMonitor) recordWarning(snap UsageSnapshot, now time.Time) (Warning, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dedupKey := snap.Tier + "|" + string(snap.Level)
	if last, ok := m.lastWarned[dedupKey]; ok && now.Sub(last) < m.dedupWindow {
		return Warning{}, false
	}
	m.lastWarned[dedupKey] = now

	w := Warning{
		ID:              uuid.New(),
		Level:           snap.Level,
		Tier:            snap.Tier,
		Percentage:      snap.Percentage,
		Message:         fmt.Sprintf("%s tier at %.1f%% of quota", snap.Tier, snap.Percentage),
		Recommendations: recommendationsFor(snap.Level),
		Timestamp:       now,
	}

	m.history = append(m.history, w)
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
	return w, true
}

func (m *HealthMonitor) triggerCleanup(snapshots map[string]UsageSnapshot) {
	ordered := make([]UsageSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Percentage > ordered[j].Percentage
	})

	for _, s := range ordered {
		removed, err := m.cleanup.ForceCleanup(s.Tier)
		if err != nil {
			log.Printf("Auto-cleanup for %s failed: %v", s.Tier, err)
			continue
		}
		log.Printf("Auto-cleanup removed %d entries from %s (%.1f%% full)", removed, s.Tier, s.Percentage)
	}
}

// Status returns a copy of the most recent health status.
func (m *HealthMonitor) Status() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyStatus(m.current)
}

// Warnings returns a copy of the bounded recent-warning history.
func (m *HealthMonitor) Warnings() []Warning {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Warning, len(m.history))
	for i, w := range m.history {
		out[i] = copyWarning(w)
	}
	return out
}

// SubscribeHealth registers a health-update callback. The current status is
// pushed immediately; the returned handle unregisters via Unsubscribe.
func (m *HealthMonitor) SubscribeHealth(fn func(HealthStatus)) uuid.UUID {
	m.mu.Lock()
	id := uuid.New()
	m.healthSubs[id] = fn
	status := copyStatus(m.current)
	m.mu.Unlock()

	fn(status)
	return id
}

// SubscribeWarnings registers a callback for newly crossed thresholds.
func (m *HealthMonitor) SubscribeWarnings(fn func(Warning)) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.warnSubs[id] = fn
	return id
}

// Unsubscribe removes a subscription by handle, whichever channel owns it.
func (m *HealthMonitor) Unsubscribe(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.healthSubs, id)
	delete(m.warnSubs, id)
}

func copyStatus(s HealthStatus) HealthStatus {
	cp := s
	cp.Tiers = make(map[string]UsageSnapshot, len(s.Tiers))
	for k, v := range s.Tiers {
		cp.Tiers[k] = v
	}
	cp.Warnings = make([]Warning, len(s.Warnings))
	for i, w := range s.Warnings {
		cp.Warnings[i] = copyWarning(w)
	}
	return cp
}

func copyWarning(w Warning) Warning {
	cp := w
	cp.Recommendations = append([]string(nil), w.Recommendations...)
	return cp
}

func recommendationsFor(level HealthLevel) []string {
	switch level {
	case LevelEmergency:
		return []string{
			"storage is effectively full; cleanup has been requested",
			"lower entry TTLs or raise the tier's capacity",
		}
	case LevelCritical:
		return []string{
			"run a cleanup pass or invalidate unused key prefixes",
			"review quota configuration for this tier",
		}
	case LevelWarning:
		return []string{"consider invalidating stale key prefixes"}
	default:
		return []string{"usage is elevated but within bounds"}
	}
}
