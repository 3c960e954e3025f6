// Package cache implements a sharded, TTL-aware response cache for
// authdnsd, keyed on query name/type/DO-bit, with single-flight
// forwarding so concurrent queries for the same key collapse into one
// upstream lookup.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dnsscience/authdnsd/internal/wire"
)

const (
	defaultShardCount = 256
	defaultShardSize  = 10000
	cleanupInterval   = 60 * time.Second
)

// Key identifies a cached response. DO is included because DNSSEC-aware
// and DNSSEC-naive clients must never be served each other's answers: a
// response with RRSIGs attached is a different wire payload than one
// without, even for the same qname/qtype.
type Key struct {
	Name string
	Type wire.RecordType
	DO   bool
}

func (k Key) hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(wire.CanonicalName(k.Name)))
	var b [3]byte
	b[0] = byte(k.Type >> 8)
	b[1] = byte(k.Type)
	if k.DO {
		b[2] = 1
	}
	h.Write(b[:])
	return h.Sum64()
}

// Entry is a cached, decoded response message plus the bookkeeping
// needed to decide when it expires and whether to keep serving it.
type Entry struct {
	Message   *wire.Message
	ExpiresAt time.Time
	OrigTTL   uint32
	Pinned    bool // true for apex NS/SOA records that never expire from cache

	Hits atomic.Uint64
}

func (e *Entry) isExpired(now time.Time) bool {
	if e.Pinned {
		return false
	}
	return now.After(e.ExpiresAt)
}

// RemainingTTL returns rrTTL decremented by however long this entry has
// sat in the cache, floored at zero, so a response served from cache
// never carries a TTL longer than its actual remaining lifetime. Pinned
// entries never decay; they're re-served at their configured TTL for
// as long as they're pinned, matching isExpired's treatment of them.
func (e *Entry) RemainingTTL(rrTTL uint32, now time.Time) uint32 {
	if e.Pinned {
		return rrTTL
	}
	elapsed := time.Duration(e.OrigTTL)*time.Second - e.ExpiresAt.Sub(now)
	if elapsed <= 0 {
		return rrTTL
	}
	elapsedSec := uint32(elapsed / time.Second)
	if elapsedSec >= rrTTL {
		return 0
	}
	return rrTTL - elapsedSec
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
	maxSize int
}

// Cache is a thread-safe, sharded response cache. Each shard has its own
// lock so lookups for unrelated keys never contend.
type Cache struct {
	shards    []*shard
	shardMask uint64

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	flight singleflight.Group

	evictionInterval time.Duration
	stopCleanup      chan struct{}
	cleanupDone      sync.WaitGroup
}

// Config controls cache sizing, sharding, and the background sweep.
type Config struct {
	MaxEntries int
	ShardCount int

	// EvictionInterval sets how often the background sweep scans for
	// expired entries. Zero falls back to cleanupInterval.
	EvictionInterval time.Duration
}

// New builds a Cache per cfg, rounding ShardCount up to the next power of
// two (so shard selection can use a bitmask instead of modulo) and
// starting a background goroutine that evicts expired entries every
// cfg.EvictionInterval (cleanupInterval when that is zero).
func New(cfg Config) *Cache {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = defaultShardCount
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaultShardSize * cfg.ShardCount
	}
	cfg.ShardCount = nextPowerOfTwo(cfg.ShardCount)
	shardSize := cfg.MaxEntries / cfg.ShardCount
	if shardSize == 0 {
		shardSize = 1
	}

	evictionInterval := cfg.EvictionInterval
	if evictionInterval <= 0 {
		evictionInterval = cleanupInterval
	}

	c := &Cache{
		shards:           make([]*shard, cfg.ShardCount),
		shardMask:        uint64(cfg.ShardCount - 1),
		evictionInterval: evictionInterval,
		stopCleanup:      make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uint64]*Entry, shardSize), maxSize: shardSize}
	}

	c.cleanupDone.Add(1)
	go c.cleanupLoop()

	return c
}

func nextPowerOfTwo(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Cache) shardFor(hash uint64) *shard {
	return c.shards[hash&c.shardMask]
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key Key) (*Entry, bool) {
	h := key.hash()
	s := c.shardFor(h)

	s.mu.RLock()
	entry, ok := s.entries[h]
	s.mu.RUnlock()

	if !ok || entry.isExpired(time.Now()) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	entry.Hits.Add(1)
	return entry, true
}

// Set stores entry under key, first evicting the shard's unpinned entry
// with the earliest ExpiresAt if the shard is at capacity. The victim is
// chosen by expiry time only; how recently an entry was read plays no
// part.
func (c *Cache) Set(key Key, entry *Entry) {
	h := key.hash()
	s := c.shardFor(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.maxSize {
		c.evictOldestLocked(s)
	}
	s.entries[h] = entry
}

// Pin stores entry under key with Pinned set, used for apex NS/SOA
// records that should survive the normal TTL-driven eviction sweep.
func (c *Cache) Pin(key Key, entry *Entry) {
	entry.Pinned = true
	c.Set(key, entry)
}

// Forward looks up key and, on a miss, calls fetch exactly once even if
// many goroutines miss on the same key concurrently — the rest block on
// the in-flight call and share its result. A successful fetch is cached
// under key before Forward returns. shared reports whether this caller
// got its own fetch or joined one already in progress, useful for metrics
// but not correctness.
func (c *Cache) Forward(key Key, fetch func() (*Entry, error)) (entry *Entry, shared bool, err error) {
	if e, ok := c.Get(key); ok {
		return e, false, nil
	}

	flightKey := fmt.Sprintf("%s/%d/%v", wire.CanonicalName(key.Name), key.Type, key.DO)
	v, err, shared := c.flight.Do(flightKey, func() (interface{}, error) {
		e, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(key, e)
		return e, nil
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*Entry), shared, nil
}

func (c *Cache) evictOldestLocked(s *shard) {
	var oldestHash uint64
	var oldestTime time.Time
	first := true
	for h, e := range s.entries {
		if e.Pinned {
			continue
		}
		if first || e.ExpiresAt.Before(oldestTime) {
			oldestHash, oldestTime, first = h, e.ExpiresAt, false
		}
	}
	if !first {
		delete(s.entries, oldestHash)
		c.evictions.Add(1)
	}
}

func (c *Cache) cleanupLoop() {
	defer c.cleanupDone.Done()
	ticker := time.NewTicker(c.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		var expired []uint64
		for h, e := range s.entries {
			if e.isExpired(now) {
				expired = append(expired, h)
			}
		}
		for _, h := range expired {
			delete(s.entries, h)
			c.expirations.Add(1)
		}
		s.mu.Unlock()
	}
}

// Close stops the background eviction goroutine. Safe to call once.
func (c *Cache) Close() {
	close(c.stopCleanup)
	c.cleanupDone.Wait()
}

// Stats summarizes cache activity for export as Prometheus metrics.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	HitRate     float64
}

// Stats returns a snapshot of current cache statistics.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := 0
	for _, s := range c.shards {
		s.mu.RLock()
		size += len(s.entries)
		s.mu.RUnlock()
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        size,
		HitRate:     hitRate,
	}
}
