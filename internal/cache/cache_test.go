package cache

import (
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

func newTestCache(max int) (*Cache[string], *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New[string](Options{DefaultTTL: time.Minute, MaxEntries: max, Now: clk.Now}), clk
}

func TestSetGetRoundTripAndExpiry(t *testing.T) {
	c, clk := newTestCache(0)

	c.Set("k", "v", 10*time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	clk.Advance(10 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire once ttl has elapsed")
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestDefaultTTL(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("k", "v", 0)

	clk.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("short", "x", time.Second)
	c.Set("long", "y", time.Hour)

	clk.Advance(2 * time.Second)
	assert.Equal(t, 2, c.Len(), "lazy expiry keeps the entry until read or sweep")
	assert.Equal(t, 1, c.Sweep())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)

	// touch a so b becomes least recently used
	_, _ = c.Get("a")
	c.Set("c", "3", 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestOverwriteRefreshesTTL(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("k", "old", 10*time.Second)
	clk.Advance(8 * time.Second)
	c.Set("k", "new", 10*time.Second)
	clk.Advance(8 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{MaxEntries: 64})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				k := fmt.Sprintf("%d-%d", n, j%32)
				c.Set(k, j, 0)
				c.Get(k)
				if j%10 == 0 {
					c.Delete(k)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestAddOnlyWhenAbsent(t *testing.T) {
	c, clk := newTestCache(0)

	assert.True(t, c.Add("m1", "first", 10*time.Second))
	assert.False(t, c.Add("m1", "second", 10*time.Second))
	got, _ := c.Get("m1")
	assert.Equal(t, "first", got)

	clk.Advance(10 * time.Second)
	assert.True(t, c.Add("m1", "third", 0), "expired key can be added again")
}
