package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/acgodson/blueband/internal/errors"
)

// Typed accessors over the raw region API. Reads return ok=false for absent
// keys; undecodable values surface as corrupt-entry errors naming the key.

func corrupt(region Region, key string, err error) error {
	return errors.CorruptState(fmt.Sprintf("region %d key %q: undecodable entry", region, key), err)
}

// chunkKeyPrefix is the raw-key prefix under which all chunks of a document
// live, since ChunkID = "<documentID>:c:<position>".
func chunkKeyPrefix(documentID string) []byte {
	return []byte(documentID + ":c:")
}

// vectorKeyPrefix is the raw-key prefix for all vectors of a document.
func vectorKeyPrefix(documentID string) []byte {
	return []byte(documentID + ":v:")
}

// GetCollection reads a collection record.
func (s *Store) GetCollection(ctx context.Context, id string) (*Collection, bool, error) {
	raw, ok, err := s.Get(ctx, RegionCollections, []byte(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := DecodeCollection(raw)
	if err != nil {
		return nil, false, corrupt(RegionCollections, id, err)
	}
	return c, true, nil
}

// ListCollections returns all collection records in ID order.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	var out []*Collection
	err := s.ScanPrefix(ctx, RegionCollections, nil, func(k, v []byte) error {
		c, err := DecodeCollection(v)
		if err != nil {
			return corrupt(RegionCollections, string(k), err)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// GetDocument reads a document record (metadata and content).
func (s *Store) GetDocument(ctx context.Context, collectionID, documentID string) (*Document, bool, error) {
	raw, ok, err := s.Get(ctx, RegionDocuments, CompositeKey(collectionID, documentID))
	if err != nil || !ok {
		return nil, ok, err
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return nil, false, corrupt(RegionDocuments, documentID, err)
	}
	return doc, true, nil
}

// ListDocuments returns metadata for every document in a collection.
func (s *Store) ListDocuments(ctx context.Context, collectionID string) ([]*DocumentMetadata, error) {
	var out []*DocumentMetadata
	err := s.ScanPrefix(ctx, RegionDocuments, CompositeKey(collectionID), func(k, v []byte) error {
		doc, err := DecodeDocument(v)
		if err != nil {
			return corrupt(RegionDocuments, string(k), err)
		}
		meta := doc.Meta
		out = append(out, &meta)
		return nil
	})
	return out, err
}

// GetChunk reads one chunk record.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*SemanticChunk, bool, error) {
	raw, ok, err := s.Get(ctx, RegionChunks, []byte(chunkID))
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := DecodeChunk(raw)
	if err != nil {
		return nil, false, corrupt(RegionChunks, chunkID, err)
	}
	return c, true, nil
}

// ListDocumentChunks returns a document's chunks ordered by position.
func (s *Store) ListDocumentChunks(ctx context.Context, documentID string) ([]*SemanticChunk, error) {
	var out []*SemanticChunk
	err := s.ScanPrefix(ctx, RegionChunks, chunkKeyPrefix(documentID), func(k, v []byte) error {
		c, err := DecodeChunk(v)
		if err != nil {
			return corrupt(RegionChunks, string(k), err)
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Raw keys order positions lexicographically ("10" before "2");
	// position order is the contract.
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// GetVector reads one vector record.
func (s *Store) GetVector(ctx context.Context, vectorID string) (*Vector, bool, error) {
	raw, ok, err := s.Get(ctx, RegionVectors, []byte(vectorID))
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := DecodeVector(raw)
	if err != nil {
		return nil, false, corrupt(RegionVectors, vectorID, err)
	}
	return v, true, nil
}

// ListDocumentVectors returns a document's vectors in raw-key order
// (bytewise by vector ID, so "<doc>:v:10" comes before "<doc>:v:2").
func (s *Store) ListDocumentVectors(ctx context.Context, documentID string) ([]*Vector, error) {
	var out []*Vector
	err := s.ScanPrefix(ctx, RegionVectors, vectorKeyPrefix(documentID), func(k, v []byte) error {
		vec, err := DecodeVector(v)
		if err != nil {
			return corrupt(RegionVectors, string(k), err)
		}
		out = append(out, vec)
		return nil
	})
	return out, err
}

// LoadCollectionVectors returns every vector of a collection in ascending
// vector-ID order. The order is deterministic, which downstream search
// relies on for stable tie-breaks and centroid seeding.
func (s *Store) LoadCollectionVectors(ctx context.Context, collectionID string) ([]*Vector, error) {
	var ids []string
	err := s.ScanPrefix(ctx, RegionVectorIndex, CompositeKey(collectionID), func(k, v []byte) error {
		parts, err := SplitCompositeKey(k)
		if err != nil || len(parts) != 2 {
			return corrupt(RegionVectorIndex, string(k), err)
		}
		ids = append(ids, parts[1])
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Index keys are length-prefixed, so the scan orders shorter IDs first.
	sort.Strings(ids)

	out := make([]*Vector, 0, len(ids))
	for _, id := range ids {
		vec, ok, err := s.GetVector(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.CorruptState(
				fmt.Sprintf("vector index references missing vector %q", id), nil)
		}
		out = append(out, vec)
	}
	return out, nil
}

// CountDocuments counts documents in a collection via the document index.
func (s *Store) CountDocuments(ctx context.Context, collectionID string) (int64, error) {
	return s.CountPrefix(ctx, RegionDocumentIndex, CompositeKey(collectionID))
}

// CountVectors counts vectors in a collection via the vector index.
func (s *Store) CountVectors(ctx context.Context, collectionID string) (int64, error) {
	return s.CountPrefix(ctx, RegionVectorIndex, CompositeKey(collectionID))
}

// PutCollection writes a collection record.
func (t *Tx) PutCollection(c *Collection) error {
	return t.Put(RegionCollections, []byte(c.ID), EncodeCollection(c))
}

// GetCollection reads a collection record inside the transaction.
func (t *Tx) GetCollection(id string) (*Collection, bool, error) {
	raw, ok, err := t.Get(RegionCollections, []byte(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := DecodeCollection(raw)
	if err != nil {
		return nil, false, corrupt(RegionCollections, id, err)
	}
	return c, true, nil
}

// PutDocument writes a document record and its document-index entry.
func (t *Tx) PutDocument(doc *Document) error {
	key := CompositeKey(doc.Meta.CollectionID, doc.Meta.ID)
	if err := t.Put(RegionDocuments, key, EncodeDocument(doc)); err != nil {
		return err
	}
	return t.Put(RegionDocumentIndex, key, []byte{})
}

// GetDocument reads a document record inside the transaction.
func (t *Tx) GetDocument(collectionID, documentID string) (*Document, bool, error) {
	raw, ok, err := t.Get(RegionDocuments, CompositeKey(collectionID, documentID))
	if err != nil || !ok {
		return nil, ok, err
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return nil, false, corrupt(RegionDocuments, documentID, err)
	}
	return doc, true, nil
}

// PutChunk writes a chunk record and its chunk-index entry.
func (t *Tx) PutChunk(c *SemanticChunk) error {
	if err := t.Put(RegionChunks, []byte(c.ID), EncodeChunk(c)); err != nil {
		return err
	}
	return t.Put(RegionChunkIndex, []byte(c.ID), []byte(c.DocumentID))
}

// PutVector writes a vector record and its vector-index entry.
func (t *Tx) PutVector(collectionID string, v *Vector) error {
	if err := t.Put(RegionVectors, []byte(v.ID), EncodeVector(v)); err != nil {
		return err
	}
	return t.Put(RegionVectorIndex, CompositeKey(collectionID, v.ID), []byte(v.DocumentID))
}

// DeleteVector removes a vector record and its index entry.
func (t *Tx) DeleteVector(collectionID, vectorID string) error {
	if err := t.Delete(RegionVectors, []byte(vectorID)); err != nil {
		return err
	}
	return t.Delete(RegionVectorIndex, CompositeKey(collectionID, vectorID))
}

// DeleteDocumentVectors removes every vector of a document and the matching
// vector-index entries.
func (t *Tx) DeleteDocumentVectors(collectionID, documentID string) error {
	var vectorIDs []string
	err := t.ScanPrefix(RegionVectors, vectorKeyPrefix(documentID), func(k, _ []byte) error {
		vectorIDs = append(vectorIDs, string(k))
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range vectorIDs {
		if err := t.DeleteVector(collectionID, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocumentCascade removes a document, its chunks, its vectors, and all
// index entries.
func (t *Tx) DeleteDocumentCascade(collectionID, documentID string) error {
	if err := t.DeleteDocumentVectors(collectionID, documentID); err != nil {
		return err
	}
	if err := t.DeletePrefix(RegionChunks, chunkKeyPrefix(documentID)); err != nil {
		return err
	}
	if err := t.DeletePrefix(RegionChunkIndex, chunkKeyPrefix(documentID)); err != nil {
		return err
	}
	key := CompositeKey(collectionID, documentID)
	if err := t.Delete(RegionDocuments, key); err != nil {
		return err
	}
	return t.Delete(RegionDocumentIndex, key)
}

// DeleteCollectionCascade removes a collection and everything it owns.
func (t *Tx) DeleteCollectionCascade(collectionID string) error {
	var documentIDs []string
	err := t.ScanPrefix(RegionDocumentIndex, CompositeKey(collectionID), func(k, _ []byte) error {
		parts, err := SplitCompositeKey(k)
		if err != nil || len(parts) != 2 {
			return corrupt(RegionDocumentIndex, string(k), err)
		}
		documentIDs = append(documentIDs, parts[1])
		return nil
	})
	if err != nil {
		return err
	}

	for _, did := range documentIDs {
		if err := t.DeleteDocumentCascade(collectionID, did); err != nil {
			return err
		}
	}
	// Defensive sweep for index entries whose vector records are already
	// gone.
	if err := t.DeletePrefix(RegionVectorIndex, CompositeKey(collectionID)); err != nil {
		return err
	}
	return t.Delete(RegionCollections, []byte(collectionID))
}
