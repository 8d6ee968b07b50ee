package incr

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/gogpu/vecsync/ir"
)

const (
	// encodedShards is the number of shards. Must be a power of 2.
	encodedShards = 16

	// DefaultEncodedCacheMB is the default size of an EncodedCache.
	DefaultEncodedCacheMB = 32

	bytesPerMB = 1024 * 1024
)

// EncodedCache holds canonical fragment encodings shared by every session
// packing the same documents, so identical content is encoded once.
//
// The cache is sharded by the first byte of the ContentID. Each shard is an
// LRU bounded by payload bytes under a read-mostly lock. Encoding is
// idempotent, so two sessions racing to fill the same entry store equal
// bytes and either write may win.
type EncodedCache struct {
	shards   [encodedShards]encodedShard
	maxShard int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type encodedShard struct {
	mu      sync.RWMutex
	entries map[ir.ContentID]*list.Element
	lru     *list.List // front = most recently used
	size    int64
}

type encodedEntry struct {
	id      ir.ContentID
	payload []byte
}

// NewEncodedCache creates a cache bounded to maxSizeMB megabytes of payload.
// If maxSizeMB <= 0, DefaultEncodedCacheMB is used.
func NewEncodedCache(maxSizeMB int) *EncodedCache {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultEncodedCacheMB
	}
	c := &EncodedCache{maxShard: int64(maxSizeMB) * bytesPerMB / encodedShards}
	for i := range c.shards {
		c.shards[i].entries = make(map[ir.ContentID]*list.Element)
		c.shards[i].lru = list.New()
	}
	return c
}

func (c *EncodedCache) shard(id ir.ContentID) *encodedShard {
	return &c.shards[id[0]&(encodedShards-1)]
}

// Get returns the cached encoding of id. The returned slice must not be
// modified.
func (c *EncodedCache) Get(id ir.ContentID) ([]byte, bool) {
	s := c.shard(id)

	s.mu.RLock()
	_, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	s.mu.Lock()
	elem, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	s.lru.MoveToFront(elem)
	payload := elem.Value.(*encodedEntry).payload
	s.mu.Unlock()

	c.hits.Add(1)
	return payload, true
}

// Put stores the encoding of id. Payloads larger than a shard's budget are
// not cached.
func (c *EncodedCache) Put(id ir.ContentID, payload []byte) {
	n := int64(len(payload))
	if n > c.maxShard {
		return
	}
	s := c.shard(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[id]; ok {
		s.lru.MoveToFront(elem)
		return
	}
	for s.size+n > c.maxShard {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		e := s.lru.Remove(oldest).(*encodedEntry)
		delete(s.entries, e.id)
		s.size -= int64(len(e.payload))
		c.evictions.Add(1)
	}
	s.entries[id] = s.lru.PushFront(&encodedEntry{id: id, payload: payload})
	s.size += n
}

// Encode returns the canonical encoding of f under id, from the cache when
// possible.
func (c *EncodedCache) Encode(id ir.ContentID, f ir.Fragment) []byte {
	if payload, ok := c.Get(id); ok {
		return payload
	}
	payload := ir.Encode(f)
	c.Put(id, payload)
	return payload
}

// Len returns the number of cached encodings.
func (c *EncodedCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Size returns the total cached payload bytes.
func (c *EncodedCache) Size() int64 {
	var n int64
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += s.size
		s.mu.RUnlock()
	}
	return n
}

// Clear removes every entry. Statistics are kept.
func (c *EncodedCache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.entries = make(map[ir.ContentID]*list.Element)
		s.lru.Init()
		s.size = 0
		s.mu.Unlock()
	}
}

// CacheStats reports EncodedCache activity.
type CacheStats struct {
	Len       int
	Size      int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns current cache statistics.
func (c *EncodedCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Len:       c.Len(),
		Size:      c.Size(),
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   rate,
	}
}
