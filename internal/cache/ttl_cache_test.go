package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetExpiresEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.Now))

	c.Set("a", 1)

	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = (%v, %v), want (1, true)", v, ok)
	}

	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry still served")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("hit rate = %f, want 0.5", stats.HitRate)
	}
}

func TestSetEvictsWhenFull(t *testing.T) {
	clock := newFakeClock()
	c := New(20, time.Minute, WithClock(clock.Now))

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}
	if c.Len() != 20 {
		t.Fatalf("len = %d, want 20", c.Len())
	}

	c.Set("overflow", 99)

	if c.Len() > 20 {
		t.Fatalf("len = %d, capacity exceeded", c.Len())
	}
	if _, ok := c.Get("overflow"); !ok {
		t.Fatal("newest entry was not stored")
	}
	// Eviction drops the oldest insertions first.
	if _, ok := c.Get("key-0"); ok {
		t.Fatal("oldest entry survived eviction")
	}
}

func TestEvictPrefersExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.Now))

	// Half the entries are already past their expiry when the cache fills.
	for i := 0; i < 5; i++ {
		c.Seed(fmt.Sprintf("stale-%d", i), i, clock.Now().Add(-time.Second))
	}
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("fresh-%d", i), i)
	}

	c.Set("new", 1)

	for i := 0; i < 5; i++ {
		if _, ok := c.Get(fmt.Sprintf("fresh-%d", i)); !ok {
			t.Fatalf("fresh-%d evicted while expired entries existed", i)
		}
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatal("new entry missing after eviction")
	}
}

func TestClearKeepsCounters(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.Now))

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	c.Clear()

	stats := c.Stats()
	if stats.Size != 0 {
		t.Fatalf("size = %d after clear, want 0", stats.Size)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("counters reset by clear: %+v", stats)
	}
}

func TestDelete(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("a", 1)
	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted entry still served")
	}
}

func TestDeleteChurnKeepsOrderBounded(t *testing.T) {
	c := New(1000, time.Minute)

	for i := 0; i < 50000; i++ {
		c.Set("198.51.100.7", i)
		c.Delete("198.51.100.7")
	}

	if got := c.Len(); got != 0 {
		t.Fatalf("expected empty cache after churn, have %d entries", got)
	}

	c.mu.Lock()
	orderLen := len(c.order)
	c.mu.Unlock()
	if orderLen > compactSlackLen+1 {
		t.Fatalf("order slice holds %d keys for 0 live entries", orderLen)
	}
}

func TestDeleteChurnWithLiveEntries(t *testing.T) {
	c := New(1000, time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("10.0.0.%d", i), true)
	}

	for i := 0; i < 10000; i++ {
		c.Set("198.51.100.7", i)
		c.Delete("198.51.100.7")
	}

	if got := c.Len(); got != 100 {
		t.Fatalf("expected 100 live entries, have %d", got)
	}
	for i := 0; i < 100; i++ {
		if _, ok := c.Get(fmt.Sprintf("10.0.0.%d", i)); !ok {
			t.Fatalf("live key 10.0.0.%d lost during churn", i)
		}
	}

	c.mu.Lock()
	orderLen := len(c.order)
	c.mu.Unlock()
	if orderLen > 2*100+compactSlackLen+1 {
		t.Fatalf("order slice holds %d keys for 100 live entries", orderLen)
	}
}
