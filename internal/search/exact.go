// Package search implements exact and approximate top-k cosine similarity
// search over stored vectors.
//
// Exact search is a full scan with a bounded min-heap. Approximate search
// routes the query through a transient two-level centroid index built by
// k-means clustering; selection between the two is adaptive on corpus size.
package search

import (
	"container/heap"
	"math"
	"sort"

	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/store"
)

// Search limits and adaptive-selection constants.
const (
	// DefaultK is the result count when the caller does not specify one.
	DefaultK = 10
	// MaxK caps the result count; larger requests are clamped silently.
	MaxK = 100
	// ApproxThreshold is the corpus size at which approximate search kicks
	// in (when the caller allows it).
	ApproxThreshold = 1000
	// DefaultCandidateFactor widens the cluster candidate set for
	// approximate search.
	DefaultCandidateFactor = 2.0
)

// Match is one search result. DocumentTitle and ChunkText are enrichment
// fields filled by the API layer.
type Match struct {
	DocumentID    string  `json:"document_id"`
	ChunkID       string  `json:"chunk_id"`
	Score         float32 `json:"score"`
	DocumentTitle string  `json:"document_title,omitempty"`
	ChunkText     string  `json:"chunk_text,omitempty"`
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// ValidateEmbedding checks the invariants every embedding must satisfy
// before storage or search: dimensionality within bounds, all components
// finite, norm strictly positive. Returns the L2 norm.
func ValidateEmbedding(emb []float32) (float32, error) {
	if len(emb) == 0 {
		return 0, errors.InvalidInput("embedding", "must not be empty")
	}
	if len(emb) > store.MaxEmbeddingDimensions {
		return 0, errors.InvalidInput("embedding", "dimension exceeds maximum")
	}
	for _, x := range emb {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, errors.InvalidInput("embedding", "contains non-finite component")
		}
	}
	norm := L2Norm(emb)
	if norm <= 0 {
		return 0, errors.InvalidInput("embedding", "has zero norm")
	}
	return norm, nil
}

// scoredVector pairs a candidate with its cosine score.
type scoredVector struct {
	id    string
	score float32
	vec   *store.Vector
}

// resultHeap is a bounded min-heap: the worst candidate sits at the top so
// it can be evicted when a better one arrives. On equal score the greater
// vector ID is worse, which makes the final output deterministic.
type resultHeap []scoredVector

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].id > h[j].id
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) { *h = append(*h, x.(scoredVector)) }

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// beats reports whether candidate c should replace the current heap minimum.
func (h resultHeap) beats(c scoredVector) bool {
	if c.score != h[0].score {
		return c.score > h[0].score
	}
	return c.id < h[0].id
}

// Exact scans vectors and returns the top k by cosine similarity against the
// query, sorted descending by score with ties broken by ascending vector ID.
// Vectors with mismatched dimension or a non-positive norm are skipped.
// Results below minScore are dropped; when filter is non-nil only vectors of
// the allowed documents are considered.
func Exact(query []float32, queryNorm float32, vectors []*store.Vector, k int, minScore float32, filter map[string]struct{}) []Match {
	if k <= 0 || queryNorm <= 0 {
		return nil
	}

	h := make(resultHeap, 0, k)
	for _, v := range vectors {
		if len(v.Embedding) != len(query) || v.Norm <= 0 {
			continue
		}
		if filter != nil {
			if _, ok := filter[v.DocumentID]; !ok {
				continue
			}
		}

		score := Dot(query, v.Embedding) / (queryNorm * v.Norm)
		if score < minScore {
			continue
		}

		c := scoredVector{id: v.ID, score: score, vec: v}
		if len(h) < k {
			heap.Push(&h, c)
		} else if h.beats(c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := make([]Match, len(h))
	// Sorting the drained heap is simpler than popping in reverse and
	// keeps the descending-score, ascending-ID contract in one place.
	sort.Slice(h, func(i, j int) bool {
		if h[i].score != h[j].score {
			return h[i].score > h[j].score
		}
		return h[i].id < h[j].id
	})
	for i, c := range h {
		out[i] = Match{
			DocumentID: c.vec.DocumentID,
			ChunkID:    c.vec.ChunkID,
			Score:      c.score,
		}
	}
	return out
}

// UseApproximate decides the search strategy: approximate only when the
// corpus is large enough and the caller did not force an exact scan.
func UseApproximate(corpusSize int, callerAllows bool) bool {
	return callerAllows && corpusSize >= ApproxThreshold
}

// ClampK caps the result count at MaxK; negative counts collapse to zero.
// The DefaultK fallback for an absent k is applied at the API layer, where
// presence is known — an explicit k=0 legitimately returns no results.
func ClampK(k int) int {
	if k < 0 {
		return 0
	}
	if k > MaxK {
		return MaxK
	}
	return k
}
