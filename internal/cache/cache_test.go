package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRU_SetGet(t *testing.T) {
	c := NewLRU(10, time.Hour)

	c.Set("a", "value-a")

	v, ok := c.Get("a")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if v != "value-a" {
		t.Errorf("expected value-a, got %v", v)
	}
}

func TestLRU_MissIncrementsMisses(t *testing.T) {
	c := NewLRU(10, time.Hour)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}

	stats := c.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestLRU_TTLExpiryIsLazy(t *testing.T) {
	c := NewLRU(10, time.Millisecond)
	c.Set("a", "value-a")

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to be evicted on lookup")
	}
	if stats := c.Stats(); stats.Size != 0 {
		t.Errorf("expected expired entry to be removed, size=%d", stats.Size)
	}
}

func TestLRU_EvictsOldestWhenFull(t *testing.T) {
	c := NewLRU(2, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // capacity 2, batch size is max(1, 10% of 2) = 1

	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected newest entry to remain")
	}
}

func TestLRU_GetPromotesToFront(t *testing.T) {
	c := NewLRU(2, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // promote a, making b the oldest
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted as the least recently used entry")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive eviction after being promoted")
	}
}

func TestLRU_Delete(t *testing.T) {
	c := NewLRU(10, time.Hour)
	c.Set("a", 1)
	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Error("expected key to be removed")
	}
}

func TestLRU_Clear(t *testing.T) {
	c := NewLRU(10, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if stats := c.Stats(); stats.Size != 0 {
		t.Errorf("expected empty cache after Clear, size=%d", stats.Size)
	}
}

func TestLRU_Cleanup_RemovesOnlyExpired(t *testing.T) {
	c := NewLRU(10, time.Hour)
	c.Set("fresh", 1)

	c.mu.Lock()
	if elem, ok := c.items["fresh"]; ok {
		elem.Value.(*cacheEntry).expiresAt = time.Now().Add(-time.Minute)
	}
	c.mu.Unlock()
	c.Set("also-fresh", 2)

	removed := c.Cleanup()
	if removed != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", removed)
	}
	if _, ok := c.Get("also-fresh"); !ok {
		t.Error("expected non-expired entry to survive cleanup")
	}
}

func TestSweep_RunsCleanupUntilCancelled(t *testing.T) {
	c := NewLRU(10, time.Hour)
	c.Set("a", 1)
	c.mu.Lock()
	c.items["a"].Value.(*cacheEntry).expiresAt = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Sweep(ctx, c, 2*time.Millisecond)
		close(done)
	}()

	deadline := time.After(200 * time.Millisecond)
	for {
		if stats := c.Stats(); stats.Size == 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("sweep never evicted the expired entry")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestNewCache_DefaultsToLRU(t *testing.T) {
	c, err := NewCache(LRUCache, Config{Capacity: 5, TTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Set("a", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected value set via NewCache to be retrievable")
	}
}

func TestNewCache_AppliesDefaultsForZeroValues(t *testing.T) {
	c, err := NewCache(LRUCache, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lru, ok := c.(*LRU)
	if !ok {
		t.Fatal("expected *LRU implementation")
	}
	if lru.capacity != 10000 {
		t.Errorf("expected default capacity 10000, got %d", lru.capacity)
	}
	if lru.ttl != time.Hour {
		t.Errorf("expected default TTL 1h, got %v", lru.ttl)
	}
}
