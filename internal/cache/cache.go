// Package cache provides the bounded in-memory vector cache that amortizes
// loading a collection's vectors out of the durable store.
//
// Recency bookkeeping rides on hashicorp's simplelru; byte accounting and
// TTL expiry are layered on top, since eviction is driven by three limits at
// once: entry count, aggregate bytes, and age.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/acgodson/blueband/internal/search"
	"github.com/acgodson/blueband/internal/store"
)

// Cache bounds.
const (
	// DefaultMaxEntries caps the number of cached collections.
	DefaultMaxEntries = 1000
	// DefaultMaxBytes caps aggregate cache memory.
	DefaultMaxBytes = 100 << 20 // 100 MiB
	// DefaultTTL expires entries regardless of access pattern.
	DefaultTTL = 24 * time.Hour

	// entryOverheadBytes is the accounted per-vector overhead beyond the
	// embedding itself (IDs, model string, struct headers). The estimate
	// is the contract: bytes = len(vectors) * (dim*4 + overhead).
	entryOverheadBytes = 128
)

// Config configures cache bounds; zero values take the defaults.
type Config struct {
	MaxEntries int
	MaxBytes   uint64
	TTL        time.Duration
}

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Bytes       uint64 `json:"bytes"`
	MaxEntries  int    `json:"max_entries"`
	MaxBytes    uint64 `json:"max_bytes"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

type entry struct {
	vectors    []*store.Vector
	index      *search.CentroidIndex
	insertedAt time.Time
	bytes      uint64
}

// VectorCache maps collection IDs to their vector sets. All methods are
// safe for concurrent use.
type VectorCache struct {
	mu    sync.Mutex
	cfg   Config
	lru   *simplelru.LRU[string, *entry]
	bytes uint64

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a vector cache with the given bounds.
func New(cfg Config) *VectorCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &VectorCache{cfg: cfg, now: time.Now}
	lru, err := simplelru.NewLRU[string, *entry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		// simplelru only errors on non-positive size, excluded above.
		panic(err)
	}
	c.lru = lru
	return c
}

// onEvict runs under c.mu via the simplelru callbacks.
func (c *VectorCache) onEvict(_ string, e *entry) {
	c.bytes -= e.bytes
	c.evictions++
}

// EstimateBytes is the accounted size of a cached vector set.
func EstimateBytes(vectors []*store.Vector) uint64 {
	if len(vectors) == 0 {
		return 0
	}
	dim := uint64(len(vectors[0].Embedding))
	return uint64(len(vectors)) * (dim*4 + entryOverheadBytes)
}

// Get returns the cached vectors for a collection and refreshes recency.
// Expired entries are dropped and reported as a miss.
func (c *VectorCache) Get(collectionID string) ([]*store.Vector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(collectionID)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.cfg.TTL {
		c.expirations++
		c.evictions-- // expiry is not an eviction
		c.lru.Remove(collectionID)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.vectors, true
}

// Insert caches a collection's vector set, evicting least-recently-used
// entries until both bounds hold. Returns false when the entry alone exceeds
// the byte limit; callers then fall back to direct store reads.
func (c *VectorCache) Insert(collectionID string, vectors []*store.Vector) bool {
	size := EstimateBytes(vectors)
	if size > c.cfg.MaxBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing an entry must not double-count its bytes.
	if _, ok := c.lru.Peek(collectionID); ok {
		c.lru.Remove(collectionID)
		c.evictions-- // replacement is not an eviction
	}

	for c.lru.Len() >= c.cfg.MaxEntries || c.bytes+size > c.cfg.MaxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}

	c.lru.Add(collectionID, &entry{
		vectors:    vectors,
		insertedAt: c.now(),
		bytes:      size,
	})
	c.bytes += size
	return true
}

// Index returns the cached centroid index for a collection, if any.
func (c *VectorCache) Index(collectionID string) (*search.CentroidIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(collectionID)
	if !ok || e.index == nil {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.cfg.TTL {
		return nil, false
	}
	return e.index, true
}

// SetIndex attaches a centroid index to an existing entry. A no-op when the
// entry has been evicted in the meantime; the index lives and dies with its
// vectors.
func (c *VectorCache) SetIndex(collectionID string, index *search.CentroidIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Peek(collectionID); ok {
		e.index = index
	}
}

// Invalidate drops a collection's entry if present. Every successful write
// touching a collection calls this before returning.
func (c *VectorCache) Invalidate(collectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lru.Peek(collectionID); ok {
		c.lru.Remove(collectionID)
		c.evictions-- // explicit invalidation is not an eviction
	}
}

// Clear drops every entry.
func (c *VectorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lru.Len()
	c.lru.Purge()
	c.evictions -= uint64(n)
	c.bytes = 0
}

// Cleanup drops all entries older than the TTL and returns how many were
// removed.
func (c *VectorCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(e.insertedAt) > c.cfg.TTL {
			c.lru.Remove(key)
			c.evictions--
			c.expirations++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of cache state.
func (c *VectorCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:     c.lru.Len(),
		Bytes:       c.bytes,
		MaxEntries:  c.cfg.MaxEntries,
		MaxBytes:    c.cfg.MaxBytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}
