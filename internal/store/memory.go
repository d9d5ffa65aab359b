package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotFound is returned when a key is absent or its entry has expired.
	ErrNotFound = errors.New("cache entry not found")
)

// CacheEntry is one cached upstream body.
type CacheEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time

	prev *CacheEntry
	next *CacheEntry
}

// MemoryCache is a concurrency-safe in-memory cache with a fixed TTL and a bound
// on the number of entries. When full, the least recently used entry is evicted.
type MemoryCache struct {
	mu sync.Mutex

	entries map[string]*CacheEntry
	head    *CacheEntry // most recently used
	tail    *CacheEntry // least recently used

	ttl        time.Duration
	maxEntries int
	clock      clockwork.Clock
}

// NewMemoryCache creates a cache. If maxEntries is <= 0, it is treated as unlimited.
// A nil clock uses real time.
func NewMemoryCache(ttl time.Duration, maxEntries int, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		entries:    make(map[string]*CacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// Get returns the body cached under key. Expired entries are dropped on read.
func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.clock.Now().Before(e.ExpiresAt) {
		c.drop(e)
		return nil, ErrNotFound
	}

	c.moveToFront(e)
	return e.Value, nil
}

// Set stores value under key for the cache TTL, replacing any previous entry.
func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)

	if e, ok := c.entries[key]; ok {
		e.Value = value
		e.ExpiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &CacheEntry{Key: key, Value: value, ExpiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.drop(c.tail)
	}
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for e := c.tail; e != nil; {
		prev := e.prev
		if !now.Before(e.ExpiresAt) {
			c.drop(e)
			removed++
		}
		e = prev
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) drop(e *CacheEntry) {
	if e == nil {
		return
	}
	delete(c.entries, e.Key)
	c.remove(e)
}

func (c *MemoryCache) moveToFront(e *CacheEntry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *MemoryCache) addToFront(e *CacheEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MemoryCache) remove(e *CacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
