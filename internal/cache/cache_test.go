package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgodson/blueband/internal/search"
	"github.com/acgodson/blueband/internal/store"
)

func vectorsOfDim(n, dim int) []*store.Vector {
	out := make([]*store.Vector, n)
	for i := range out {
		emb := make([]float32, dim)
		emb[0] = 1
		out[i] = &store.Vector{ID: fmt.Sprintf("d:v:%d", i), DocumentID: "d", Embedding: emb, Norm: 1}
	}
	return out
}

func TestCache_HitMissInvalidate(t *testing.T) {
	c := New(Config{})

	_, ok := c.Get("c1")
	assert.False(t, ok)

	require.True(t, c.Insert("c1", vectorsOfDim(3, 4)))
	got, ok := c.Get("c1")
	require.True(t, ok)
	assert.Len(t, got, 3)

	c.Invalidate("c1")
	_, ok = c.Get("c1")
	assert.False(t, ok)

	st := c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.Bytes)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a cache capped at 3 entries
	c := New(Config{MaxEntries: 3})

	// When: c1..c3 fill the cache, c1 is touched, then c4 arrives
	for _, id := range []string{"c1", "c2", "c3"} {
		require.True(t, c.Insert(id, vectorsOfDim(1, 4)))
	}
	// Touch order now c2 < c3 < c1
	_, _ = c.Get("c1")
	require.True(t, c.Insert("c4", vectorsOfDim(1, 4)))

	// Then: the least recently used entry (c2) is gone
	_, ok := c.Get("c2")
	assert.False(t, ok)
	for _, id := range []string{"c1", "c3", "c4"} {
		_, ok := c.Get(id)
		assert.True(t, ok, "expected %s cached", id)
	}
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCache_TouchOrderScenario(t *testing.T) {
	// Touch c1..c4 in order on a 3-entry cache: survivors are {c2,c3,c4}.
	c := New(Config{MaxEntries: 3})
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		if _, ok := c.Get(id); !ok {
			require.True(t, c.Insert(id, vectorsOfDim(1, 4)))
		}
	}

	_, ok := c.Get("c1")
	assert.False(t, ok, "c1 should have been evicted")
	for _, id := range []string{"c2", "c3", "c4"} {
		_, ok := c.Get(id)
		assert.True(t, ok, "expected %s cached", id)
	}
}

func TestCache_ByteBoundEviction(t *testing.T) {
	// Each entry: 10 vectors * (4*4 + 128) = 1440 bytes. Cap fits two.
	c := New(Config{MaxEntries: 100, MaxBytes: 3000})

	require.True(t, c.Insert("c1", vectorsOfDim(10, 4)))
	require.True(t, c.Insert("c2", vectorsOfDim(10, 4)))
	require.True(t, c.Insert("c3", vectorsOfDim(10, 4)))

	st := c.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.LessOrEqual(t, st.Bytes, uint64(3000))
	_, ok := c.Get("c1")
	assert.False(t, ok)
}

func TestCache_RefusesOversizedEntry(t *testing.T) {
	c := New(Config{MaxBytes: 1000})

	// 10 vectors * (128*4 + 128) = 6400 bytes > 1000
	ok := c.Insert("c1", vectorsOfDim(10, 128))
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Entries)
}

func TestCache_ReplaceDoesNotDoubleCount(t *testing.T) {
	c := New(Config{})

	require.True(t, c.Insert("c1", vectorsOfDim(10, 4)))
	before := c.Stats().Bytes
	require.True(t, c.Insert("c1", vectorsOfDim(10, 4)))

	st := c.Stats()
	assert.Equal(t, before, st.Bytes)
	assert.Equal(t, 1, st.Entries)
	assert.Zero(t, st.Evictions)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(Config{TTL: time.Hour})
	base := time.Unix(1700000000, 0)
	c.now = func() time.Time { return base }

	require.True(t, c.Insert("c1", vectorsOfDim(1, 4)))
	require.True(t, c.Insert("c2", vectorsOfDim(1, 4)))

	// Get within TTL hits
	_, ok := c.Get("c1")
	assert.True(t, ok)

	// Past TTL: Get expires the entry
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok = c.Get("c1")
	assert.False(t, ok)

	// Cleanup sweeps the rest
	removed := c.Cleanup()
	assert.Equal(t, 1, removed)

	st := c.Stats()
	assert.Zero(t, st.Entries)
	assert.EqualValues(t, 2, st.Expirations)
	assert.Zero(t, st.Evictions)
}

func TestCache_IndexLifecycle(t *testing.T) {
	c := New(Config{})
	vecs := vectorsOfDim(16, 4)
	require.True(t, c.Insert("c1", vecs))

	_, ok := c.Index("c1")
	assert.False(t, ok)

	idx := search.BuildCentroidIndex(vecs)
	require.NotNil(t, idx)
	c.SetIndex("c1", idx)

	got, ok := c.Index("c1")
	require.True(t, ok)
	assert.Same(t, idx, got)

	// Invalidation drops the index with the vectors
	c.Invalidate("c1")
	_, ok = c.Index("c1")
	assert.False(t, ok)

	// SetIndex after eviction is a no-op, not a resurrection
	c.SetIndex("c1", idx)
	_, ok = c.Index("c1")
	assert.False(t, ok)
}

func TestCache_BoundsHoldUnderChurn(t *testing.T) {
	c := New(Config{MaxEntries: 10, MaxBytes: 20000})

	for i := 0; i < 200; i++ {
		c.Insert(fmt.Sprintf("c%d", i), vectorsOfDim(1+i%12, 8))
		st := c.Stats()
		assert.LessOrEqual(t, st.Entries, 10)
		assert.LessOrEqual(t, st.Bytes, uint64(20000))
	}
}
