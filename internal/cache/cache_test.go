package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dnsscience/authdnsd/internal/wire"
)

func TestSetGet(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "example.com.", Type: wire.TypeA}
	entry := &Entry{Message: &wire.Message{}, ExpiresAt: time.Now().Add(time.Minute)}
	c.Set(key, entry)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got != entry {
		t.Error("Get returned a different entry than was Set")
	}
}

func TestGetExpired(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "example.com.", Type: wire.TypeA}
	c.Set(key, &Entry{ExpiresAt: time.Now().Add(-time.Second)})

	_, ok := c.Get(key)
	if ok {
		t.Fatal("expected miss for expired entry")
	}
}

func TestPinnedEntryNeverExpires(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "example.com.", Type: wire.TypeNS}
	c.Pin(key, &Entry{ExpiresAt: time.Now().Add(-time.Hour)})

	_, ok := c.Get(key)
	if !ok {
		t.Fatal("pinned entry should not expire")
	}
}

func TestKeyDistinguishesDOBit(t *testing.T) {
	plain := Key{Name: "example.com.", Type: wire.TypeA, DO: false}
	signed := Key{Name: "example.com.", Type: wire.TypeA, DO: true}
	if plain.hash() == signed.hash() {
		t.Error("DO-bit variants of the same query must hash differently")
	}
}

func TestForwardDeduplicatesConcurrentMisses(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "example.com.", Type: wire.TypeA}
	var calls atomic.Int32

	fetch := func() (*Entry, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Entry{ExpiresAt: time.Now().Add(time.Minute)}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.Forward(key, fetch); err != nil {
				t.Errorf("Forward: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want exactly 1", got)
	}
}

func TestForwardPropagatesError(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "fail.example.com.", Type: wire.TypeA}
	wantErr := errors.New("upstream unreachable")

	_, _, err := c.Forward(key, func() (*Entry, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}

	if _, ok := c.Get(key); ok {
		t.Error("a failed fetch must not be cached")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	c := New(Config{ShardCount: 1, MaxEntries: 2})
	defer c.Close()

	c.Set(Key{Name: "a.com.", Type: wire.TypeA}, &Entry{ExpiresAt: time.Now().Add(time.Minute)})
	c.Set(Key{Name: "b.com.", Type: wire.TypeA}, &Entry{ExpiresAt: time.Now().Add(time.Minute)})
	c.Set(Key{Name: "c.com.", Type: wire.TypeA}, &Entry{ExpiresAt: time.Now().Add(time.Minute)})

	stats := c.Stats()
	if stats.Size > 2 {
		t.Errorf("cache size %d exceeds capacity 2", stats.Size)
	}
	if stats.Evictions == 0 {
		t.Error("expected at least one eviction")
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(Config{ShardCount: 8})
	defer c.Close()

	key := Key{Name: "example.com.", Type: wire.TypeA}
	c.Set(key, &Entry{ExpiresAt: time.Now().Add(time.Minute)})

	c.Get(key)
	c.Get(Key{Name: "missing.example.com.", Type: wire.TypeA})

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits=%d Misses=%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", stats.HitRate)
	}
}
