package svg

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/gogpu/vecsync/ir"
)

const (
	// DefaultMaxSizeMB is the markup budget used when none is given.
	DefaultMaxSizeMB = 16

	megabyte = 1 << 20
	// entryOverhead approximates the bookkeeping cost of one entry.
	entryOverhead = 96
)

// cacheKey identifies rendered markup: the fragment and the render context
// (option flags that change the produced markup).
type cacheKey struct {
	id  ir.ContentID
	ctx uint8
}

// rendered is the markup of one fragment subtree in its local coordinates,
// plus the definitions it refers to.
type rendered struct {
	markup string
	glyphs []ir.ContentID // glyph outlines used through <use>
	clips  []ir.ContentID // groups whose clip path is referenced
}

func (r *rendered) size() int64 {
	return int64(len(r.markup)+ir.IDSize*(len(r.glyphs)+len(r.clips))) + entryOverhead
}

// Cache is an LRU cache of rendered fragment markup bounded by bytes.
// It is safe for concurrent use and may be shared by several renderers.
//
// Markup is keyed by ContentID, whose content never changes, so entries are
// never invalidated; they only leave the cache through eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*list.Element
	lru     *list.List // front = most recently used
	size    int64
	maxSize int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	key  cacheKey
	val  *rendered
	size int64
}

// CacheStats is a point-in-time view of a Cache. Size and MaxSize count
// markup bytes plus per-entry overhead; HitRate is Hits/(Hits+Misses).
type CacheStats struct {
	Size      int64
	MaxSize   int64
	Entries   int
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Evictions uint64
}

// NewCache creates a cache with the given budget in megabytes.
// If maxSizeMB <= 0, DefaultMaxSizeMB is used.
func NewCache(maxSizeMB int) *Cache {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return newCacheBytes(int64(maxSizeMB) * megabyte)
}

func newCacheBytes(maxSize int64) *Cache {
	return &Cache{
		entries: make(map[cacheKey]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (c *Cache) get(key cacheKey) (*rendered, bool) {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	// Re-check after acquiring write lock (entry may have been evicted)
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	val := elem.Value.(*cacheEntry).val
	c.mu.Unlock()

	c.hits.Add(1)
	return val, true
}

func (c *Cache) put(key cacheKey, val *rendered) {
	n := val.size()
	if n > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		// Same ContentID and context render identically.
		c.lru.MoveToFront(elem)
		return
	}
	for c.size+n > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		e := c.lru.Remove(oldest).(*cacheEntry)
		delete(c.entries, e.key)
		c.size -= e.size
		c.evictions.Add(1)
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, val: val, size: n})
	c.size += n
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries. Statistics are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]*list.Element)
	c.lru.Init()
	c.size = 0
	c.mu.Unlock()
}

// Stats reports the cache counters. Hit and miss counts survive Clear.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size, entries := c.size, len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Size:      size,
		MaxSize:   c.maxSize,
		Entries:   entries,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
	}
}
