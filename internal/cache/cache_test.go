package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, opts Options[string, int]) (*Cache[string, int], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(opts)
	c.now = clock.Now
	return c, clock
}

func TestCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t, Options[string, int]{})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_ExpiredEntriesAreNeverReturned(t *testing.T) {
	c, clock := newTestCache(t, Options[string, int]{TTL: time.Minute})

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 3*time.Minute)

	clock.Advance(time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok, "entry at its expiry instant is expired")
	assert.Equal(t, 1, c.Len(), "expired entry removed on read")

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestCache_Cleanup(t *testing.T) {
	var evicted []string
	c, clock := newTestCache(t, Options[string, int]{
		TTL: time.Minute,
		OnEvict: func(key string, _ int, reason EvictReason) {
			assert.Equal(t, ReasonExpired, reason)
			evicted = append(evicted, key)
		},
	})

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("c", 3)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Cleanup())
	assert.ElementsMatch(t, []string{"a", "b"}, evicted)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Cleanup())
}

func TestCache_EvictsLeastAccessedAtCapacity(t *testing.T) {
	tests := []struct {
		name    string
		access  map[string]int
		advance bool
		victim  string
	}{
		{
			name:   "lowest access count loses",
			access: map[string]int{"a": 3, "b": 1, "c": 2},
			victim: "b",
		},
		{
			name:   "tie goes to least recently accessed",
			access: map[string]int{"a": 1, "b": 1, "c": 1},
			victim: "a",
		},
		{
			name:   "never read entry loses",
			access: map[string]int{"a": 1, "c": 1},
			victim: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestCache(t, Options[string, int]{MaxEntries: 3, TTL: time.Hour})
			for i, k := range []string{"a", "b", "c"} {
				c.Set(k, i)
			}
			for _, k := range []string{"a", "b", "c"} {
				clock.Advance(time.Second)
				for i := 0; i < tt.access[k]; i++ {
					_, _ = c.Get(k)
				}
			}

			c.Set("d", 4)

			assert.Equal(t, 3, c.Len())
			_, ok := c.Get(tt.victim)
			assert.False(t, ok)
			_, ok = c.Get("d")
			assert.True(t, ok)
			assert.Equal(t, uint64(1), c.Stats().Evictions)
		})
	}
}

func TestCache_PurgesExpiredBeforeEvicting(t *testing.T) {
	c, clock := newTestCache(t, Options[string, int]{MaxEntries: 2, TTL: time.Minute})

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)
	_, _ = c.Get("long")
	clock.Advance(2 * time.Second)

	c.Set("new", 3)

	_, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, uint64(0), c.Stats().Evictions)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestCache_UpdateKeepsAccessCount(t *testing.T) {
	c, _ := newTestCache(t, Options[string, int]{MaxEntries: 2, TTL: time.Hour})

	c.Set("hot", 1)
	_, _ = c.Get("hot")
	_, _ = c.Get("hot")
	c.Set("hot", 10)
	c.Set("cold", 2)

	c.Set("new", 3)

	v, ok := c.Get("hot")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("cold")
	assert.False(t, ok)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, Options[string, int]{})

	c.Set("a", 1)
	c.Set("b", 2)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_StartSweepsAndCloseIsIdempotent(t *testing.T) {
	c := New(Options[string, int]{TTL: 10 * time.Millisecond, CleanupInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Start(ctx)
	c.Set("a", 1)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	c.Close()
	c.Close()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Options[string, int]{MaxEntries: 50, TTL: time.Minute})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d", (g*200+i)%120)
				c.Set(key, i)
				_, _ = c.Get(key)
				if i%17 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
