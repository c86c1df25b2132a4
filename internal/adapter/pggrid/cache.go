package pggrid

import (
	"context"
	"sync"

	"github.com/glenfinch/river-snap-service/internal/snap"
)

// CachedSource wraps a grid source with an in-memory LRU cache of raw
// readings. The cache is shared across acquisitions, so repeated searches
// over the same stretch of river skip the database. A search only acquires
// the inner source on its first cache miss; fully cached searches never
// touch the pool.
type CachedSource struct {
	inner snap.Source
	cache *lruCache
}

// NewCachedSource creates a cache decorator around a grid source.
func NewCachedSource(inner snap.Source, maxEntries int) *CachedSource {
	return &CachedSource{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

// Acquire returns a sampler that consults the cache before the inner
// source. Each call returns a fresh sampler for a single search; the
// shared cache behind them is safe for concurrent use.
func (c *CachedSource) Acquire(_ context.Context) (snap.Sampler, func(), error) {
	s := &cachedSampler{src: c}
	return s, s.release, nil
}

// cachedSampler defers the inner acquisition until the first miss and then
// carries the inner sampler for the rest of the search.
type cachedSampler struct {
	src          *CachedSource
	inner        snap.Sampler
	releaseInner func()
}

func (s *cachedSampler) Sample(ctx context.Context, p snap.GridPoint) (float64, error) {
	if raw, ok := s.src.cache.get(p); ok {
		return raw, nil
	}
	if s.inner == nil {
		inner, release, err := s.src.inner.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		s.inner = inner
		s.releaseInner = release
	}
	raw, err := s.inner.Sample(ctx, p)
	if err != nil {
		return 0, err
	}
	// Sentinel readings are facts of the raster and cached like any other;
	// only errors are retried.
	s.src.cache.put(p, raw)
	return raw, nil
}

func (s *cachedSampler) release() {
	if s.releaseInner != nil {
		s.releaseInner()
		s.releaseInner = nil
		s.inner = nil
	}
}

// lruCache is a simple thread-safe LRU cache of raw readings by cell.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[snap.GridPoint]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   snap.GridPoint
	value float64
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[snap.GridPoint]*entry),
	}
}

func (c *lruCache) get(key snap.GridPoint) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key snap.GridPoint, value float64) {
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
