package search

import (
	"math"

	"github.com/acgodson/blueband/internal/store"
)

// maxKMeansIterations bounds index construction time; clustering quality
// plateaus well before this on embedding workloads.
const maxKMeansIterations = 8

// CentroidIndex is a transient two-level structure: vectors partitioned into
// ⌈√N⌉ clusters by cosine k-means. It is built on demand, cached alongside
// the collection's vectors, and never persisted.
//
// Construction is deterministic: centroids are seeded by uniform stride
// sampling over the vector slice (which arrives in ascending vector-ID
// order), and assignment ties resolve to the lowest cluster index.
type CentroidIndex struct {
	dim       int
	centroids [][]float32
	norms     []float32
	// clusters holds member indices into the vector slice the index was
	// built from. The index is only valid against that exact slice.
	clusters [][]int
	size     int
}

// BuildCentroidIndex clusters vectors into ⌈√N⌉ groups. Returns nil when
// there are too few vectors to be worth clustering.
func BuildCentroidIndex(vectors []*store.Vector) *CentroidIndex {
	n := len(vectors)
	if n < 2 {
		return nil
	}
	dim := len(vectors[0].Embedding)
	c := int(math.Ceil(math.Sqrt(float64(n))))

	// Seed by uniform stride sampling: cluster j starts at vectors[j*n/c].
	centroids := make([][]float32, c)
	for j := 0; j < c; j++ {
		src := vectors[j*n/c].Embedding
		centroids[j] = append([]float32(nil), src...)
	}
	norms := make([]float32, c)
	for j, cent := range centroids {
		norms[j] = L2Norm(cent)
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false

		for i, v := range vectors {
			if len(v.Embedding) != dim || v.Norm <= 0 {
				continue
			}
			best, bestScore := 0, float32(math.Inf(-1))
			for j := range centroids {
				if norms[j] <= 0 {
					continue
				}
				score := Dot(v.Embedding, centroids[j]) / (v.Norm * norms[j])
				if score > bestScore {
					best, bestScore = j, score
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Recompute centroids as member means; an emptied cluster keeps
		// its previous centroid.
		sums := make([][]float64, c)
		counts := make([]int, c)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, v := range vectors {
			j := assign[i]
			if j < 0 {
				continue
			}
			counts[j]++
			for d, x := range v.Embedding {
				sums[j][d] += float64(x)
			}
		}
		for j := 0; j < c; j++ {
			if counts[j] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[j][d] = float32(sums[j][d] / float64(counts[j]))
			}
			norms[j] = L2Norm(centroids[j])
		}
	}

	clusters := make([][]int, c)
	for i, j := range assign {
		if j >= 0 {
			clusters[j] = append(clusters[j], i)
		}
	}

	return &CentroidIndex{dim: dim, centroids: centroids, norms: norms, clusters: clusters, size: n}
}

// Size returns the number of vectors the index was built over.
func (ci *CentroidIndex) Size() int { return ci.size }

// Clusters returns the number of clusters.
func (ci *CentroidIndex) Clusters() int { return len(ci.centroids) }

// Search answers a query through the index: score all centroids, take the
// top p = max(1, ⌈√C·candidateFactor⌉) clusters, then run exact top-k over
// the union of their members. vectors must be the slice the index was built
// from.
func (ci *CentroidIndex) Search(query []float32, queryNorm float32, vectors []*store.Vector, k int, minScore float32, filter map[string]struct{}, candidateFactor float64) []Match {
	if len(query) != ci.dim || queryNorm <= 0 || k <= 0 {
		return nil
	}
	if candidateFactor <= 0 {
		candidateFactor = DefaultCandidateFactor
	}

	c := len(ci.centroids)
	p := int(math.Ceil(math.Sqrt(float64(c)) * candidateFactor))
	if p < 1 {
		p = 1
	}
	if p > c {
		p = c
	}

	// Rank clusters by centroid similarity. C is small (√N), so a simple
	// selection pass per slot is fine.
	type ranked struct {
		idx   int
		score float32
	}
	scores := make([]ranked, 0, c)
	for j := range ci.centroids {
		if ci.norms[j] <= 0 {
			continue
		}
		score := Dot(query, ci.centroids[j]) / (queryNorm * ci.norms[j])
		scores = append(scores, ranked{idx: j, score: score})
	}
	for a := 0; a < p && a < len(scores); a++ {
		best := a
		for b := a + 1; b < len(scores); b++ {
			if scores[b].score > scores[best].score {
				best = b
			}
		}
		scores[a], scores[best] = scores[best], scores[a]
	}
	if p > len(scores) {
		p = len(scores)
	}

	var candidates []*store.Vector
	for _, r := range scores[:p] {
		for _, i := range ci.clusters[r.idx] {
			candidates = append(candidates, vectors[i])
		}
	}

	return Exact(query, queryNorm, candidates, k, minScore, filter)
}
