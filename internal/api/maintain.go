package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/search"
	"github.com/acgodson/blueband/internal/store"
)

// normTolerance is the relative error allowed between a stored norm and the
// norm recomputed from the embedding.
const normTolerance = 1e-6

// ValidationIssue is one inconsistency found by ValidateCollectionVectors.
type ValidationIssue struct {
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id,omitempty"`
	VectorID   string `json:"vector_id,omitempty"`
	ChunkID    string `json:"chunk_id,omitempty"`
	Detail     string `json:"detail"`
	Repaired   bool   `json:"repaired"`
}

// Issue kinds.
const (
	IssueOrphanVector  = "orphan_vector"  // vector whose chunk does not exist
	IssueMissingVector = "missing_vector" // embedded document missing a chunk's vector
	IssueNormDrift     = "norm_drift"     // stored norm disagrees with embedding
	IssueFlagMismatch  = "flag_mismatch"  // is_embedded disagrees with vector set
	IssueDanglingIndex = "dangling_index" // index entry without its vector record
)

// ValidationReport summarizes an invariant sweep over one collection.
type ValidationReport struct {
	CollectionID     string            `json:"collection_id"`
	DocumentsChecked int               `json:"documents_checked"`
	VectorsChecked   int               `json:"vectors_checked"`
	Issues           []ValidationIssue `json:"issues"`
	Repaired         bool              `json:"repaired"`
}

// ClearCache drops every cache entry.
func (a *API) ClearCache() {
	a.cache.Clear()
}

// CleanupCache drops TTL-expired entries and returns how many were removed.
func (a *API) CleanupCache() int {
	return a.cache.Cleanup()
}

// GetCacheStats returns a snapshot of cache state and counters.
func (a *API) GetCacheStats() cache.Stats {
	return a.cache.Stats()
}

// InvalidateCollectionCache drops one collection's cache entry.
func (a *API) InvalidateCollectionCache(collectionID string) {
	a.cache.Invalidate(collectionID)
}

// GetStoreStats returns per-region entry counts and byte sizes.
func (a *API) GetStoreStats(ctx context.Context) ([]store.RegionStats, error) {
	return a.store.Stats(ctx)
}

// ValidateCollectionVectors sweeps a collection's documents, chunks, and
// vectors against the data-model invariants. With repair set, orphans and
// dangling index entries are deleted and is_embedded flags corrected. Admin
// only.
func (a *API) ValidateCollectionVectors(ctx context.Context, caller, collectionID string, repair bool) (*ValidationReport, error) {
	coll, err := a.collections.RequireAdmin(ctx, caller, collectionID)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{CollectionID: collectionID, Repaired: repair}

	docs, err := a.store.ListDocuments(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	knownDocs := make(map[string]bool, len(docs))

	for _, meta := range docs {
		knownDocs[meta.ID] = true
		report.DocumentsChecked++

		chunks, err := a.store.ListDocumentChunks(ctx, meta.ID)
		if err != nil {
			return nil, err
		}
		vectors, err := a.store.ListDocumentVectors(ctx, meta.ID)
		if err != nil {
			return nil, err
		}

		chunkIDs := make(map[string]bool, len(chunks))
		for _, c := range chunks {
			chunkIDs[c.ID] = true
		}

		vectorByChunk := make(map[string]*store.Vector, len(vectors))
		for _, v := range vectors {
			report.VectorsChecked++

			if !chunkIDs[v.ChunkID] {
				report.Issues = append(report.Issues, ValidationIssue{
					Kind:       IssueOrphanVector,
					DocumentID: meta.ID,
					VectorID:   v.ID,
					ChunkID:    v.ChunkID,
					Detail:     "vector references a chunk that does not exist",
					Repaired:   repair,
				})
				if repair {
					if err := a.deleteVector(ctx, collectionID, v.ID); err != nil {
						return nil, err
					}
				}
				continue
			}
			vectorByChunk[v.ChunkID] = v

			recomputed := search.L2Norm(v.Embedding)
			if relError(recomputed, v.Norm) > normTolerance {
				report.Issues = append(report.Issues, ValidationIssue{
					Kind:     IssueNormDrift,
					VectorID: v.ID,
					Detail: fmt.Sprintf("stored norm %g, recomputed %g",
						v.Norm, recomputed),
					Repaired: repair,
				})
				if repair {
					fixed := *v
					fixed.Norm = recomputed
					err := a.store.Update(ctx, func(tx *store.Tx) error {
						return tx.PutVector(collectionID, &fixed)
					})
					if err != nil {
						return nil, err
					}
				}
			}
		}

		// is_embedded holds iff every chunk has a vector with the
		// collection's current model.
		complete := len(chunks) > 0
		for _, c := range chunks {
			v, ok := vectorByChunk[c.ID]
			if !ok {
				complete = false
				if meta.IsEmbedded {
					report.Issues = append(report.Issues, ValidationIssue{
						Kind:       IssueMissingVector,
						DocumentID: meta.ID,
						ChunkID:    c.ID,
						Detail:     "embedded document is missing a vector for this chunk",
					})
				}
				continue
			}
			if coll.Settings.EmbeddingModel != "" && v.Model != coll.Settings.EmbeddingModel {
				complete = false
			}
		}
		if meta.IsEmbedded != complete {
			report.Issues = append(report.Issues, ValidationIssue{
				Kind:       IssueFlagMismatch,
				DocumentID: meta.ID,
				Detail: fmt.Sprintf("is_embedded=%v but vector set complete=%v",
					meta.IsEmbedded, complete),
				Repaired: repair,
			})
			if repair {
				err := a.store.Update(ctx, func(tx *store.Tx) error {
					doc, ok, err := tx.GetDocument(collectionID, meta.ID)
					if err != nil || !ok {
						return err
					}
					doc.Meta.IsEmbedded = complete
					return tx.PutDocument(doc)
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	// Sweep the vector index for entries pointing at missing vectors or
	// unknown documents.
	type dangling struct{ key []byte }
	var danglers []dangling
	err = a.store.ScanPrefix(ctx, store.RegionVectorIndex, store.CompositeKey(collectionID), func(k, v []byte) error {
		parts, err := store.SplitCompositeKey(k)
		if err != nil || len(parts) != 2 {
			report.Issues = append(report.Issues, ValidationIssue{
				Kind:     IssueDanglingIndex,
				Detail:   "undecodable vector index key",
				Repaired: repair,
			})
			danglers = append(danglers, dangling{key: append([]byte{}, k...)})
			return nil
		}
		vectorID := parts[1]
		_, exists, err := a.store.GetVector(ctx, vectorID)
		if err != nil {
			return err
		}
		if !exists || !knownDocs[string(v)] {
			report.Issues = append(report.Issues, ValidationIssue{
				Kind:       IssueDanglingIndex,
				VectorID:   vectorID,
				DocumentID: string(v),
				Detail:     "index entry without a live vector and document",
				Repaired:   repair,
			})
			danglers = append(danglers, dangling{key: append([]byte{}, k...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if repair && len(danglers) > 0 {
		err := a.store.Update(ctx, func(tx *store.Tx) error {
			for _, d := range danglers {
				if err := tx.Delete(store.RegionVectorIndex, d.key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if repair && len(report.Issues) > 0 {
		a.cache.Invalidate(collectionID)
		a.logger.Info("collection_repaired",
			slog.String("collection", collectionID),
			slog.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func (a *API) deleteVector(ctx context.Context, collectionID, vectorID string) error {
	return a.store.Update(ctx, func(tx *store.Tx) error {
		return tx.DeleteVector(collectionID, vectorID)
	})
}

func relError(a, b float32) float64 {
	fa, fb := float64(a), float64(b)
	denom := math.Max(math.Abs(fa), math.Abs(fb))
	if denom == 0 {
		return 0
	}
	return math.Abs(fa-fb) / denom
}
