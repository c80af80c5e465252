package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgodson/blueband/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// When: I write a value and read it back
	err := s.Update(ctx, func(tx *Tx) error {
		return tx.Put(RegionCollections, []byte("k1"), []byte("v1"))
	})
	require.NoError(t, err)

	v, ok, err := s.Get(ctx, RegionCollections, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	// When: I overwrite it
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.Put(RegionCollections, []byte("k1"), []byte("v2"))
	})
	require.NoError(t, err)
	v, _, _ = s.Get(ctx, RegionCollections, []byte("k1"))
	assert.Equal(t, []byte("v2"), v)

	// When: I delete it twice (idempotent)
	for i := 0; i < 2; i++ {
		err = s.Update(ctx, func(tx *Tx) error {
			return tx.Delete(RegionCollections, []byte("k1"))
		})
		require.NoError(t, err)
	}
	_, ok, err = s.Get(ctx, RegionCollections, []byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RegionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(RegionChunks, []byte("shared"), []byte("chunk")); err != nil {
			return err
		}
		return tx.Put(RegionVectors, []byte("shared"), []byte("vector"))
	})
	require.NoError(t, err)

	v, _, _ := s.Get(ctx, RegionChunks, []byte("shared"))
	assert.Equal(t, []byte("chunk"), v)
	v, _, _ = s.Get(ctx, RegionVectors, []byte("shared"))
	assert.Equal(t, []byte("vector"), v)
}

func TestStore_ScanPrefix_AscendingOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Given: documents for two collections interleaved at insert time
	err := s.Update(ctx, func(tx *Tx) error {
		for _, pair := range [][2]string{{"c2", "d1"}, {"c1", "d2"}, {"c1", "d1"}, {"c1", "d3"}} {
			if err := tx.Put(RegionDocuments, CompositeKey(pair[0], pair[1]), []byte(pair[1])); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// When: I scan the c1 prefix
	var seen []string
	err = s.ScanPrefix(ctx, RegionDocuments, CompositeKey("c1"), func(k, v []byte) error {
		seen = append(seen, string(v))
		return nil
	})
	require.NoError(t, err)

	// Then: only c1 entries appear, in ascending key order
	assert.Equal(t, []string{"d1", "d2", "d3"}, seen)
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(RegionCollections, []byte("a"), []byte("1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Then: nothing was committed
	_, ok, err := s.Get(ctx, RegionCollections, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TypedRecords_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	coll := sampleCollection()
	doc := &Document{
		Meta: DocumentMetadata{
			ID: "d1", CollectionID: coll.ID, Title: "t", ContentType: ContentTypePlainText,
			Size: 5, TotalChunks: 1, Checksum: "abcd",
		},
		Content: "hello",
	}
	chunk := &SemanticChunk{ID: "d1:c:0", DocumentID: "d1", Text: "hello", CharEnd: 5}
	vec := &Vector{ID: "d1:v:0", DocumentID: "d1", ChunkID: "d1:c:0",
		Embedding: []float32{1, 0}, Norm: 1, Model: "m"}

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutCollection(coll); err != nil {
			return err
		}
		if err := tx.PutDocument(doc); err != nil {
			return err
		}
		if err := tx.PutChunk(chunk); err != nil {
			return err
		}
		return tx.PutVector(coll.ID, vec)
	})
	require.NoError(t, err)

	gotColl, ok, err := s.GetCollection(ctx, coll.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, coll, gotColl)

	gotDoc, ok, err := s.GetDocument(ctx, coll.ID, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", gotDoc.Content)

	chunks, err := s.ListDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk, chunks[0])

	vecs, err := s.LoadCollectionVectors(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, vec, vecs[0])

	nDocs, err := s.CountDocuments(ctx, coll.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, nDocs)
	nVecs, err := s.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, nVecs)
}

func TestStore_ListDocumentChunks_PositionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Given: 12 chunks, so lexicographic raw-key order differs from
	// numeric position order ("10" < "2")
	err := s.Update(ctx, func(tx *Tx) error {
		for p := 0; p < 12; p++ {
			c := &SemanticChunk{
				ID:         fmt.Sprintf("d1:c:%d", p),
				DocumentID: "d1",
				Text:       fmt.Sprintf("chunk %d", p),
				Position:   uint32(p),
			}
			if err := tx.PutChunk(c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	chunks, err := s.ListDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 12)
	for i, c := range chunks {
		assert.EqualValues(t, i, c.Position)
	}
}

func TestStore_DeleteDocumentCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := func(did string) {
		err := s.Update(ctx, func(tx *Tx) error {
			doc := &Document{Meta: DocumentMetadata{ID: did, CollectionID: "c1", Title: did}}
			if err := tx.PutDocument(doc); err != nil {
				return err
			}
			for p := 0; p < 2; p++ {
				chunk := &SemanticChunk{ID: fmt.Sprintf("%s:c:%d", did, p), DocumentID: did, Position: uint32(p)}
				if err := tx.PutChunk(chunk); err != nil {
					return err
				}
				vec := &Vector{ID: fmt.Sprintf("%s:v:%d", did, p), DocumentID: did,
					ChunkID: chunk.ID, Embedding: []float32{1}, Norm: 1}
				if err := tx.PutVector("c1", vec); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	seed("d1")
	seed("d2")

	// When: d1 is cascade-deleted
	err := s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteDocumentCascade("c1", "d1")
	})
	require.NoError(t, err)

	// Then: no trace of d1 remains
	_, ok, _ := s.GetDocument(ctx, "c1", "d1")
	assert.False(t, ok)
	chunks, _ := s.ListDocumentChunks(ctx, "d1")
	assert.Empty(t, chunks)
	vecs, _ := s.ListDocumentVectors(ctx, "d1")
	assert.Empty(t, vecs)

	// And: d2 is untouched
	vecs, err = s.LoadCollectionVectors(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Equal(t, "d2", v.DocumentID)
	}
}

func TestStore_DeleteCollectionCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutCollection(&Collection{ID: "c1", GenesisAdmin: "p"}); err != nil {
			return err
		}
		doc := &Document{Meta: DocumentMetadata{ID: "d1", CollectionID: "c1"}}
		if err := tx.PutDocument(doc); err != nil {
			return err
		}
		chunk := &SemanticChunk{ID: "d1:c:0", DocumentID: "d1"}
		if err := tx.PutChunk(chunk); err != nil {
			return err
		}
		return tx.PutVector("c1", &Vector{ID: "d1:v:0", DocumentID: "d1",
			ChunkID: "d1:c:0", Embedding: []float32{1}, Norm: 1})
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteCollectionCascade("c1")
	})
	require.NoError(t, err)

	_, ok, _ := s.GetCollection(ctx, "c1")
	assert.False(t, ok)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	for _, st := range stats {
		assert.Zero(t, st.Entries, "region %d should be empty", st.Region)
	}
}

func TestStore_CorruptEntrySurfacesTypedError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.Put(RegionCollections, []byte("bad"), []byte{0x01, 0x02})
	})
	require.NoError(t, err)

	_, _, err = s.GetCollection(ctx, "bad")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCorruptEntry))
}

func TestStore_DirectoryLock(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, nil)
	require.NoError(t, err)
	defer func() { _ = s1.Close() }()

	// A second opener on the same directory fails fast.
	_, err = Open(dir, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreLocked))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, nil)
	require.NoError(t, err)
	err = s1.Update(context.Background(), func(tx *Tx) error {
		return tx.PutCollection(&Collection{ID: "c1", Name: "persisted", GenesisAdmin: "p"})
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	c, ok, err := s2.GetCollection(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", c.Name)
}
