package services

import (
	"context"
	"log"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// QuotaSource says how an estimate was obtained. Reliability is for
// diagnostics only and never gates health thresholds.
type QuotaSource string

const (
	SourceEstimated   QuotaSource = "estimated"
	SourceMeasured    QuotaSource = "measured"
	SourceAPIReported QuotaSource = "api-reported"

	ReliabilityEstimated   = 0.3
	ReliabilityMeasured    = 0.7
	ReliabilityAPIReported = 0.9
)

// QuotaEstimate is one tier's capacity ceiling as best we can tell.
type QuotaEstimate struct {
	Tier           string      `json:"tier"`
	EstimatedBytes int64       `json:"estimatedBytes"`
	ExactBytes     *int64      `json:"exactBytes,omitempty"`
	Source         QuotaSource `json:"source"`
	Reliability    float64     `json:"reliability"`
	DetectedAt     time.Time   `json:"detectedAt"`
}

// CapacityProbe is an optional native capacity signal. Absence is tolerated
// with heuristic fallback; implementations may return quota 0 for "unknown".
type CapacityProbe interface {
	Capacity(ctx context.Context) (usedBytes, quotaBytes int64, err error)
}

// WriteProber lets the detector empirically measure a tier's ceiling by
// writing throwaway payloads that are rolled back immediately.
type WriteProber interface {
	ProbeWrite(size int64) error
	ProbeRollback() error
}

// QuotaEstimator produces a fresh estimate for one tier.
type QuotaEstimator func() QuotaEstimate

// QuotaDetector caches per-tier estimates and refreshes them on a fixed
// interval. Estimates are handed out by value so callers can't mutate the
// cache.
type QuotaDetector struct {
	mu              sync.Mutex
	estimators      map[string]QuotaEstimator
	cached          map[string]QuotaEstimate
	refreshInterval time.Duration
	refreshedAt     time.Time
	now             func() time.Time
}

func NewQuotaDetector(refreshInterval time.Duration) *QuotaDetector {
	return &QuotaDetector{
		estimators:      make(map[string]QuotaEstimator),
		cached:          make(map[string]QuotaEstimate),
		refreshInterval: refreshInterval,
		now:             time.Now,
	}
}

// Register attaches an estimator for a tier. The first estimate is computed
// lazily on the next lookup.
func (d *QuotaDetector) Register(tier string, estimator QuotaEstimator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.estimators[tier] = estimator
}

// Estimate returns the cached estimate for a tier, refreshing all tiers
// when the cache has gone stale.
func (d *QuotaDetector) Estimate(tier string) QuotaEstimate {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.refreshedAt.IsZero() || d.now().Sub(d.refreshedAt) >= d.refreshInterval {
		d.refreshLocked()
	}

	est, ok := d.cached[tier]
	if !ok {
		return QuotaEstimate{Tier: tier, Source: SourceEstimated, Reliability: ReliabilityEstimated, DetectedAt: d.now()}
	}
	return est
}

// Refresh recomputes every registered estimate immediately.
func (d *QuotaDetector) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshLocked()
}

func (d *QuotaDetector) refreshLocked() {
	for tier, estimator := range d.estimators {
		est := estimator()
		est.Tier = tier
		est.DetectedAt = d.now()
		d.cached[tier] = est
	}
	d.refreshedAt = d.now()
}

const (
	// Fraction of the runtime memory limit the hot tier may claim.
	memoryUsableFraction = 0.25

	// Device-class heuristics when no memory limit is configured.
	constrainedMemoryBudget = 128 << 20
	desktopMemoryBudget     = 512 << 20

	writeProbeStart   = 1 << 20   // 1MB
	writeProbeHardCap = 256 << 20 // stop doubling here
	writeProbeScale   = 8         // quota ≈ largest accepted write × scale

	conservativeWarmQuota = 64 << 20
)

// MemoryQuotaEstimator prefers the runtime's configured memory limit,
// claiming a conservative usable fraction of it. Without a configured
// limit it falls back to a device-class heuristic.
func MemoryQuotaEstimator() QuotaEstimator {
	return func() QuotaEstimate {
		limit := debug.SetMemoryLimit(-1)
		if limit > 0 && limit < math.MaxInt64 {
			usable := int64(float64(limit) * memoryUsableFraction)
			return QuotaEstimate{
				EstimatedBytes: usable,
				ExactBytes:     &usable,
				Source:         SourceAPIReported,
				Reliability:    ReliabilityAPIReported,
			}
		}

		budget := int64(desktopMemoryBudget)
		if runtime.NumCPU() <= 2 {
			budget = constrainedMemoryBudget
		}
		return QuotaEstimate{
			EstimatedBytes: budget,
			Source:         SourceEstimated,
			Reliability:    ReliabilityEstimated,
		}
	}
}

// WriteProbeQuotaEstimator doubles a throwaway write until the backend
// rejects it or the hard cap is reached, rolling each attempt back. The
// quota is extrapolated from the largest accepted write. If even the first
// probe fails, a fixed conservative constant is used instead.
func WriteProbeQuotaEstimator(prober WriteProber) QuotaEstimator {
	return func() QuotaEstimate {
		var largest int64
		for size := int64(writeProbeStart); size <= writeProbeHardCap; size *= 2 {
			if err := prober.ProbeWrite(size); err != nil {
				break
			}
			largest = size
			if err := prober.ProbeRollback(); err != nil {
				log.Printf("Quota probe rollback failed: %v", err)
			}
		}
		// Best effort: never leave probe data behind.
		prober.ProbeRollback()

		if largest == 0 {
			return QuotaEstimate{
				EstimatedBytes: conservativeWarmQuota,
				Source:         SourceEstimated,
				Reliability:    ReliabilityEstimated,
			}
		}
		return QuotaEstimate{
			EstimatedBytes: largest * writeProbeScale,
			Source:         SourceMeasured,
			Reliability:    ReliabilityMeasured,
		}
	}
}

// NativeQuotaEstimator prefers a capacity probe's reported quota and falls
// back to a heuristic budget when the probe is absent or reports unknown.
func NativeQuotaEstimator(probe CapacityProbe, heuristicBudget int64, timeout time.Duration) QuotaEstimator {
	return func() QuotaEstimate {
		if probe != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_, quota, err := probe.Capacity(ctx)
			if err == nil && quota > 0 {
				return QuotaEstimate{
					EstimatedBytes: quota,
					ExactBytes:     &quota,
					Source:         SourceAPIReported,
					Reliability:    ReliabilityAPIReported,
				}
			}
			if err != nil {
				log.Printf("Capacity probe unavailable, using heuristic: %v", err)
			}
		}
		return QuotaEstimate{
			EstimatedBytes: heuristicBudget,
			Source:         SourceEstimated,
			Reliability:    ReliabilityEstimated,
		}
	}
}
