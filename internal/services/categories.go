package services

import (
	"context"
	"time"
)

// Category groups cache entries that share a freshness profile. Each
// category pins its own TTL so callers don't re-derive policy per call.
type Category string

const (
	// CategoryOverview is rapidly changing summary data.
	CategoryOverview Category = "overview"
	// CategoryTimeseries is historical series data, refreshed a few times
	// a day.
	CategoryTimeseries Category = "timeseries"
	// CategoryFundamentals changes rarely.
	CategoryFundamentals Category = "fundamentals"
	// CategoryReference is near-static lookup data.
	CategoryReference Category = "reference"
)

var categoryTTLs = map[Category]time.Duration{
	CategoryOverview:     5 * time.Minute,
	CategoryTimeseries:   12 * time.Hour,
	CategoryFundamentals: 24 * time.Hour,
	CategoryReference:    week,
}

// CategoryTTL returns the fixed TTL for a category, or the default base TTL
// for unknown categories.
func CategoryTTL(category Category) time.Duration {
	if ttl, ok := categoryTTLs[category]; ok {
		return ttl
	}
	return DefaultBaseTTL
}

// GetByCategory resolves a categorized entry. The key embeds a parameter
// hash so differing inputs never collide, and the category fixes the TTL.
func (o *Orchestrator) GetByCategory(ctx context.Context, category Category, id, subkey string, params interface{}, fetch FetchFunc) (*Result, error) {
	parts := []string{subkey}
	if params != nil {
		parts = append(parts, HashParams(params))
	}
	key := BuildKey(string(category), id, parts...)
	return o.Get(ctx, key, fetch, &Options{TTL: CategoryTTL(category)})
}
