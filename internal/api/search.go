package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/acgodson/blueband/internal/chunk"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/search"
	"github.com/acgodson/blueband/internal/store"
)

// SearchRequest carries the inputs for a similarity search. Query (text,
// embedded via the provider) or QueryEmbedding must be set; when both are
// set, QueryEmbedding is used and Query is ignored.
type SearchRequest struct {
	CollectionID   string    `json:"collection_id"`
	Query          string    `json:"query,omitempty"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
	// K defaults to 10 when absent; an explicit 0 returns no results.
	K        *int     `json:"k,omitempty"`
	MinScore *float32 `json:"min_score,omitempty"`
	// UseApproximate defaults to true; the engine still runs exact below
	// the corpus-size threshold.
	UseApproximate *bool `json:"use_approximate,omitempty"`
	// Filter restricts results to the given document IDs.
	Filter []string `json:"filter,omitempty"`
	// ProxyURL overrides the collection's embedding proxy for this query.
	ProxyURL string `json:"proxy_url,omitempty"`
}

func (r *SearchRequest) k() int {
	if r.K == nil {
		return search.DefaultK
	}
	return search.ClampK(*r.K)
}

func (r *SearchRequest) minScore() float32 {
	if r.MinScore == nil {
		return float32(math.Inf(-1))
	}
	return *r.MinScore
}

func (r *SearchRequest) useApproximate() bool {
	return r.UseApproximate == nil || *r.UseApproximate
}

func (r *SearchRequest) filterSet() map[string]struct{} {
	if len(r.Filter) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(r.Filter))
	for _, id := range r.Filter {
		set[id] = struct{}{}
	}
	return set
}

// loadVectors returns a collection's vectors, serving from the cache when
// possible. Concurrent cold loads collapse into one store read. When the
// vector set is too large to cache, search falls back to the direct read.
func (a *API) loadVectors(ctx context.Context, collectionID string) ([]*store.Vector, error) {
	if vectors, ok := a.cache.Get(collectionID); ok {
		return vectors, nil
	}

	v, err, _ := a.flight.Do(collectionID, func() (any, error) {
		vectors, err := a.store.LoadCollectionVectors(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		if len(vectors) > 0 && !a.cache.Insert(collectionID, vectors) {
			a.logger.Warn("vector_cache_entry_too_large",
				slog.String("collection", collectionID),
				slog.Int("vectors", len(vectors)))
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*store.Vector), nil
}

// queryEmbedding resolves the query vector: either supplied directly or
// computed through the embedding port with the collection's model.
func (a *API) queryEmbedding(ctx context.Context, coll *store.Collection, req *SearchRequest) ([]float32, float32, error) {
	emb := req.QueryEmbedding
	if emb == nil {
		if req.Query == "" {
			return nil, 0, errors.InvalidInput("query", "must not be empty")
		}
		proxyURL := req.ProxyURL
		if proxyURL == "" {
			proxyURL = coll.Settings.ProxyURL
		}
		result, err := a.provider.Embed(ctx, []string{req.Query}, coll.Settings.EmbeddingModel, proxyURL)
		if err != nil {
			return nil, 0, errors.EmbeddingFailed("query embedding failed", err)
		}
		if len(result) != 1 {
			return nil, 0, errors.EmbeddingFailed(
				fmt.Sprintf("provider returned %d embeddings for one query", len(result)), nil)
		}
		emb = result[0]
	}

	norm, err := search.ValidateEmbedding(emb)
	if err != nil {
		return nil, 0, err
	}
	if coll.Dimension != 0 && len(emb) != int(coll.Dimension) {
		return nil, 0, errors.DimensionMismatch(int(coll.Dimension), len(emb))
	}
	return emb, norm, nil
}

// Search runs a top-k similarity query over a collection, choosing between
// exact scan and the centroid index by corpus size.
func (a *API) Search(ctx context.Context, req SearchRequest) ([]search.Match, error) {
	coll, err := a.collections.Get(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}

	k := req.k()
	if k == 0 {
		return []search.Match{}, nil
	}

	vectors, err := a.loadVectors(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyIndex,
			fmt.Sprintf("collection %s has no vectors", req.CollectionID), nil).
			WithSuggestion("embed at least one document before searching")
	}

	query, queryNorm, err := a.queryEmbedding(ctx, coll, &req)
	if err != nil {
		return nil, err
	}
	if coll.Dimension == 0 && len(query) != len(vectors[0].Embedding) {
		return nil, errors.DimensionMismatch(len(vectors[0].Embedding), len(query))
	}

	minScore := req.minScore()
	filter := req.filterSet()

	var matches []search.Match
	if search.UseApproximate(len(vectors), req.useApproximate()) {
		idx, ok := a.cache.Index(req.CollectionID)
		if !ok || idx.Size() != len(vectors) {
			idx = search.BuildCentroidIndex(vectors)
			a.cache.SetIndex(req.CollectionID, idx)
		}
		matches = idx.Search(query, queryNorm, vectors, k, minScore, filter, search.DefaultCandidateFactor)
	} else {
		matches = search.Exact(query, queryNorm, vectors, k, minScore, filter)
	}

	if err := a.enrich(ctx, req.CollectionID, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// SearchFiltered is Search restricted to an explicit document set.
func (a *API) SearchFiltered(ctx context.Context, req SearchRequest) ([]search.Match, error) {
	if len(req.Filter) == 0 {
		return nil, errors.InvalidInput("filter", "must name at least one document")
	}
	return a.Search(ctx, req)
}

// FindSimilarDocuments returns chunks similar to an existing document,
// excluding the document itself. The query vector is the element-wise mean
// of the source document's vectors; it is not normalized, which cosine
// scoring does not need.
func (a *API) FindSimilarDocuments(ctx context.Context, collectionID, sourceDocumentID string, k *int, minScore *float32) ([]search.Match, error) {
	if _, err := a.collections.Get(ctx, collectionID); err != nil {
		return nil, err
	}

	source, err := a.store.ListDocumentVectors(ctx, sourceDocumentID)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("vectors for document %s", sourceDocumentID))
	}

	dim := len(source[0].Embedding)
	mean := make([]float32, dim)
	for _, v := range source {
		for i, x := range v.Embedding {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(source))
	}

	matches, err := a.Search(ctx, SearchRequest{
		CollectionID:   collectionID,
		QueryEmbedding: mean,
		K:              k,
		MinScore:       minScore,
	})
	if err != nil {
		return nil, err
	}

	out := matches[:0]
	for _, m := range matches {
		if m.DocumentID != sourceDocumentID {
			out = append(out, m)
		}
	}
	return out, nil
}

// BatchSimilaritySearch embeds all queries in one provider call and answers
// each against the same collection.
func (a *API) BatchSimilaritySearch(ctx context.Context, collectionID string, queries []string, k *int, minScore *float32) ([][]search.Match, error) {
	if len(queries) == 0 {
		return nil, errors.InvalidInput("queries", "must not be empty")
	}
	coll, err := a.collections.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	embeddings, err := a.provider.Embed(ctx, queries, coll.Settings.EmbeddingModel, coll.Settings.ProxyURL)
	if err != nil {
		return nil, errors.EmbeddingFailed("batch query embedding failed", err)
	}
	if len(embeddings) != len(queries) {
		return nil, errors.EmbeddingFailed(
			fmt.Sprintf("provider returned %d embeddings for %d queries", len(embeddings), len(queries)), nil)
	}

	out := make([][]search.Match, len(queries))
	for i, emb := range embeddings {
		matches, err := a.Search(ctx, SearchRequest{
			CollectionID:   collectionID,
			QueryEmbedding: emb,
			K:              k,
			MinScore:       minScore,
		})
		if err != nil {
			return nil, err
		}
		out[i] = matches
	}
	return out, nil
}

// DemoVectorSimilarity embeds the given texts and query without persisting
// anything and runs an exact in-memory search. It shares the embedding port
// and scoring code with the persistent path.
func (a *API) DemoVectorSimilarity(ctx context.Context, texts []string, query, proxyURL string, k *int, minScore *float32) ([]search.Match, error) {
	if len(texts) == 0 {
		return nil, errors.InvalidInput("texts", "must not be empty")
	}
	if query == "" {
		return nil, errors.InvalidInput("query", "must not be empty")
	}

	// One provider call covers the corpus and the query.
	embeddings, err := a.provider.Embed(ctx, append(append([]string{}, texts...), query), "", proxyURL)
	if err != nil {
		return nil, errors.EmbeddingFailed("demo embedding failed", err)
	}
	if len(embeddings) != len(texts)+1 {
		return nil, errors.EmbeddingFailed(
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(embeddings), len(texts)+1), nil)
	}

	vectors := make([]*store.Vector, len(texts))
	for i := range texts {
		norm, err := search.ValidateEmbedding(embeddings[i])
		if err != nil {
			return nil, err
		}
		docID := fmt.Sprintf("demo_%04d", i)
		vectors[i] = &store.Vector{
			ID:         chunk.VectorID(docID, 0),
			DocumentID: docID,
			ChunkID:    chunk.ChunkID(docID, 0),
			Embedding:  embeddings[i],
			Norm:       norm,
		}
	}
	queryEmb := embeddings[len(texts)]
	queryNorm, err := search.ValidateEmbedding(queryEmb)
	if err != nil {
		return nil, err
	}

	kk := search.DefaultK
	if k != nil {
		kk = search.ClampK(*k)
	}
	ms := float32(math.Inf(-1))
	if minScore != nil {
		ms = *minScore
	}

	matches := search.Exact(queryEmb, queryNorm, vectors, kk, ms, nil)
	for i := range matches {
		// Surface the original text instead of a stored chunk.
		var idx int
		_, _ = fmt.Sscanf(matches[i].DocumentID, "demo_%04d", &idx)
		if idx >= 0 && idx < len(texts) {
			matches[i].ChunkText = texts[idx]
		}
	}
	return matches, nil
}

// enrich fills document titles and chunk texts on matches.
func (a *API) enrich(ctx context.Context, collectionID string, matches []search.Match) error {
	titles := make(map[string]string)
	for i := range matches {
		m := &matches[i]

		title, ok := titles[m.DocumentID]
		if !ok {
			doc, found, err := a.store.GetDocument(ctx, collectionID, m.DocumentID)
			if err != nil {
				return err
			}
			if found {
				title = doc.Meta.Title
			}
			titles[m.DocumentID] = title
		}
		m.DocumentTitle = title

		c, found, err := a.store.GetChunk(ctx, m.ChunkID)
		if err != nil {
			return err
		}
		if found {
			m.ChunkText = c.Text
		}
	}
	return nil
}
