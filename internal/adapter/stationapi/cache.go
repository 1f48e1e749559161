package stationapi

import (
	"context"
	"sync"

	"github.com/couchcryptid/storm-watch-client/internal/domain"
)

// CachedDirectory wraps a Directory with an in-memory LRU cache for
// per-station lookups. Station metadata changes rarely, so the picker
// screens can re-open without refetching.
type CachedDirectory struct {
	inner Directory
	cache *lruCache
}

// NewCachedDirectory creates a cache decorator around a directory.
func NewCachedDirectory(inner Directory, maxEntries int) *CachedDirectory {
	return &CachedDirectory{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

// ListStations delegates to the inner directory and primes the cache with
// every station in the result.
func (c *CachedDirectory) ListStations(ctx context.Context) ([]domain.Station, error) {
	stations, err := c.inner.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stations {
		c.cache.put(s.ID, s)
	}
	return stations, nil
}

// GetStation returns a cached station when available.
func (c *CachedDirectory) GetStation(ctx context.Context, id int64) (domain.Station, error) {
	if station, ok := c.cache.get(id); ok {
		return station, nil
	}
	station, err := c.inner.GetStation(ctx, id)
	if err != nil {
		return station, err
	}
	c.cache.put(id, station)
	return station, nil
}

// lruCache is a simple thread-safe LRU cache for stations.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[int64]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   int64
	value domain.Station
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[int64]*entry),
	}
}

func (c *lruCache) get(key int64) (domain.Station, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Station{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key int64, value domain.Station) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
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

func (c *lruCache) remove(e *entry) {
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
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
