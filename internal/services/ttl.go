package services

import "time"

const (
	// DefaultBaseTTL applies when the caller sets no TTL.
	DefaultBaseTTL = time.Hour

	week = 7 * 24 * time.Hour
)

// WarmTierTTL derives the warm tier's TTL from the hot tier's base TTL.
// Short-lived data gets a proportional cushion; anything longer settles on
// fixed retention so the warm tier stays useful without tracking the hot
// tier's policy.
func WarmTierTTL(base time.Duration) time.Duration {
	switch {
	case base <= 15*time.Minute:
		return 5 * base
	case base <= time.Hour:
		return 24 * time.Hour
	default:
		return week
	}
}

// ColdTierTTL is fixed regardless of base TTL, keeping the durable tier
// useful for stale fallback no matter how aggressive the hot-tier policy is.
func ColdTierTTL(base time.Duration) time.Duration {
	return week
}
