package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarmTierTTL(t *testing.T) {
	cases := []struct {
		base time.Duration
		want time.Duration
	}{
		{5 * time.Minute, 25 * time.Minute},
		{10 * time.Minute, 50 * time.Minute},
		{15 * time.Minute, 75 * time.Minute},
		{30 * time.Minute, 24 * time.Hour},
		{time.Hour, 24 * time.Hour},
		{2 * time.Hour, 7 * 24 * time.Hour},
		{48 * time.Hour, 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WarmTierTTL(tc.base), "base %s", tc.base)
	}
}

func TestColdTierTTLIsFixed(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, ColdTierTTL(time.Minute))
	assert.Equal(t, 7*24*time.Hour, ColdTierTTL(48*time.Hour))
}

func TestCategoryTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, CategoryTTL(CategoryOverview))
	assert.Equal(t, 12*time.Hour, CategoryTTL(CategoryTimeseries))
	assert.Equal(t, 24*time.Hour, CategoryTTL(CategoryFundamentals))
	assert.Equal(t, 7*24*time.Hour, CategoryTTL(CategoryReference))
	assert.Equal(t, DefaultBaseTTL, CategoryTTL(Category("unknown")))
}
