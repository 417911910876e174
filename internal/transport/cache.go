package transport

import (
	"container/list"
	"sync"
)

// ByteCache keeps downloaded media resident up to a byte ceiling.
// Insertion beyond the ceiling evicts least-recently-used entries.
// Eviction drops bytes only; swarm membership for the transfer is
// untouched, so the peer keeps contributing upload bandwidth.
type ByteCache struct {
	maxBytes int64

	mu       sync.Mutex
	resident int64
	entries  map[string]*list.Element
	lru      *list.List

	hits      uint64
	misses    uint64
	evictions uint64
}

type byteCacheEntry struct {
	transferID string
	data       []byte
}

// NewByteCache creates a cache bounded by maxBytes.
func NewByteCache(maxBytes int64) *ByteCache {
	return &ByteCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached bytes and marks the entry recently used.
func (c *ByteCache) Get(transferID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[transferID]
	if !ok {
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	return elem.Value.(*byteCacheEntry).data, true
}

// Put inserts the bytes, evicting LRU entries until the ceiling holds.
// An entry larger than the ceiling itself is not cached at all.
func (c *ByteCache) Put(transferID string, data []byte) {
	size := int64(len(data))
	if size > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[transferID]; ok {
		old := elem.Value.(*byteCacheEntry)
		c.resident += size - int64(len(old.data))
		old.data = data
		c.lru.MoveToFront(elem)
	} else {
		elem := c.lru.PushFront(&byteCacheEntry{transferID: transferID, data: data})
		c.entries[transferID] = elem
		c.resident += size
	}

	for c.resident > c.maxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.evict(oldest)
	}
}

// Remove purges one transfer's bytes, e.g. after an integrity failure.
func (c *ByteCache) Remove(transferID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[transferID]; ok {
		c.evict(elem)
	}
}

// evict must be called with the lock held.
func (c *ByteCache) evict(elem *list.Element) {
	entry := elem.Value.(*byteCacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.transferID)
	c.resident -= int64(len(entry.data))
	c.evictions++
}

// Resident returns the bytes currently held.
func (c *ByteCache) Resident() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// Contains reports whether the transfer's bytes are resident, without
// touching recency.
func (c *ByteCache) Contains(transferID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[transferID]
	return ok
}

// Stats returns hit/miss/eviction counters.
func (c *ByteCache) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}
