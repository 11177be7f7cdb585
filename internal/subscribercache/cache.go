// Package subscribercache implements C7: a bounded, TTL-indexed map of the
// most recent N canonical records per (exchange, symbol, data-type),
// replayed to a broadcast subscriber (C6) before live delivery begins.
package subscribercache

import (
	"sync"
	"time"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
)

// entry is a ring buffer of up to maxPerKey records, oldest first, so
// Snapshot can replay the whole recent run instead of only the latest
// value.
type entry struct {
	records  []*model.Record
	expires  time.Time
	accessed time.Time
}

type stats struct {
	hits      int64
	misses    int64
	evictions int64
}

// Cache holds the N most recent records per key, evicted on size cap, TTL,
// or explicit clear, grounded on the teacher's internal/data/cache.TTLCache
// adapted from a single-value cache to a bounded per-key record ring.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string // insertion/touch order, front = least recently used
	maxSize   int
	maxPerKey int
	ttl       time.Duration
	stats     stats

	stopCh chan struct{}
}

// NewCache builds a Cache from C7's configuration and starts its background
// cleanup goroutine.
func NewCache(cfg config.CacheConfig) *Cache {
	maxPerKey := cfg.MaxRecordsPerKey
	if maxPerKey <= 0 {
		maxPerKey = 1
	}
	c := &Cache{
		entries:   make(map[string]*entry),
		maxSize:   cfg.MaxSize,
		maxPerKey: maxPerKey,
		ttl:       cfg.TTL,
		stopCh:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Put appends rec to its key's record ring, evicting the oldest record in
// that ring once it holds more than maxRecordsPerKey, and evicting the
// least-recently-touched key if the cache is at its key-count capacity.
func (c *Cache) Put(rec *model.Record) {
	key := rec.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e, exists := c.entries[key]
	if !exists {
		if c.maxSize > 0 && len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
		e = &entry{}
		c.entries[key] = e
	}
	e.records = append(e.records, rec)
	if len(e.records) > c.maxPerKey {
		e.records = e.records[len(e.records)-c.maxPerKey:]
	}
	e.expires = now.Add(c.ttl)
	e.accessed = now
	c.touchOrderLocked(key)
}

// Get returns the most recently put record for key, or (nil, false) on a
// miss — cache misses are silent per spec §4.7.
func (c *Cache) Get(key string) (*model.Record, bool) {
	recs, ok := c.GetAll(key)
	if !ok {
		return nil, false
	}
	return recs[len(recs)-1], true
}

// GetAll returns every buffered record for key, oldest first, or
// (nil, false) on a miss.
func (c *Cache) GetAll(key string) ([]*model.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || len(e.records) == 0 {
		c.stats.misses++
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.stats.misses++
		return nil, false
	}
	e.accessed = time.Now()
	c.stats.hits++
	c.touchOrderLocked(key)

	out := make([]*model.Record, len(e.records))
	copy(out, e.records)
	return out, true
}

// Snapshot returns every buffered, non-expired record for each of the given
// topic keys, oldest first within a key, skipping silently over misses, for
// replay-before-live delivery on a new subscriber connection.
func (c *Cache) Snapshot(keys []string) []*model.Record {
	out := make([]*model.Record, 0, len(keys))
	for _, k := range keys {
		if recs, ok := c.GetAll(k); ok {
			out = append(out, recs...)
		}
	}
	return out
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// Size reports the current key count.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stopCh)
}

func (c *Cache) touchOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	c.stats.evictions++
}

func (c *Cache) cleanupLoop() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			for i, k := range c.order {
				if k == key {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
			c.stats.evictions++
		}
	}
}
