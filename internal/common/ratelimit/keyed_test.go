// internal/common/ratelimit/keyed_test.go
package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_AllowIsPerKey(t *testing.T) {
	k := NewKeyed(1, 2)

	assert.True(t, k.Allow("tenant-a"))
	assert.True(t, k.Allow("tenant-a"))
	assert.False(t, k.Allow("tenant-a"))

	assert.True(t, k.Allow("tenant-b"))
	assert.Equal(t, 2, k.Len())
}

func TestKeyed_DisabledWhenRateIsZero(t *testing.T) {
	k := NewKeyed(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, k.Allow("x"))
	}
}

func TestKeyed_WaitHonoursContext(t *testing.T) {
	k := NewKeyed(0.001, 1)
	require.True(t, k.Allow("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, k.Wait(ctx, "slow"))
}

func TestKeyed_Prune(t *testing.T) {
	k := NewKeyed(10, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }

	k.Allow("old")
	now = now.Add(time.Hour)
	k.Allow("fresh")

	assert.Equal(t, 1, k.Prune(30*time.Minute))
	assert.Equal(t, 1, k.Len())
}
