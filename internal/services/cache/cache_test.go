package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryExpired(t *testing.T) {
	now := time.Now()

	live := Entry{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, live.Expired(now))

	dead := Entry{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, dead.Expired(now))

	// Zero expiry means no logical TTL.
	forever := Entry{}
	assert.False(t, forever.Expired(now))
}

func TestEntryRemainingTTL(t *testing.T) {
	now := time.Now()

	live := Entry{ExpiresAt: now.Add(time.Minute)}
	assert.Equal(t, time.Minute, live.RemainingTTL(now))

	dead := Entry{ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Duration(0), dead.RemainingTTL(now))
}

func TestEntryCloneIsDeep(t *testing.T) {
	original := Entry{Key: "k", Value: []byte("value")}

	clone := original.Clone()
	clone.Value[0] = 'X'

	assert.Equal(t, []byte("value"), original.Value)
	assert.Equal(t, "k", clone.Key)
}

func TestComputeHitRate(t *testing.T) {
	assert.Equal(t, 0.0, ComputeHitRate(0, 0))
	assert.Equal(t, 100.0, ComputeHitRate(5, 0))
	assert.Equal(t, 0.0, ComputeHitRate(0, 5))
	assert.InDelta(t, 50.0, ComputeHitRate(5, 5), 0.001)
}
