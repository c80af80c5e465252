package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/collection"
	"github.com/acgodson/blueband/internal/embed"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/store"
)

type fixture struct {
	store       *store.Store
	cache       *cache.VectorCache
	collections *collection.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	vc := cache.New(cache.Config{})
	return &fixture{store: st, cache: vc, collections: collection.NewManager(st, vc, nil)}
}

func (f *fixture) ingestor(p embed.Provider) *Ingestor {
	return NewIngestor(f.store, f.cache, f.collections, p, nil)
}

func (f *fixture) createCollection(t *testing.T, id string, settings store.CollectionSettings) {
	t.Helper()
	_, err := f.collections.Create(context.Background(), "admin", collection.CreateRequest{
		ID: id, Name: id, Settings: settings,
	})
	require.NoError(t, err)
}

// scriptedProvider embeds deterministically but fails the Nth call (1-based).
type scriptedProvider struct {
	inner    embed.Provider
	failCall int32
	calls    int32
	err      error
}

func (s *scriptedProvider) Embed(ctx context.Context, texts []string, model, proxyURL string) ([][]float32, error) {
	call := atomic.AddInt32(&s.calls, 1)
	if s.failCall > 0 && call == s.failCall {
		return nil, s.err
	}
	return s.inner.Embed(ctx, texts, model, proxyURL)
}

func TestNewDocumentID_Format(t *testing.T) {
	id := NewDocumentID("Pizza Recipes & More!")
	parts := strings.SplitN(id, "_", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "pizz", parts[0])
	assert.Len(t, parts[1], 16)

	// Titles with no usable characters fall back to a generic prefix
	id = NewDocumentID("!!! ???")
	assert.True(t, strings.HasPrefix(id, "doc_"))

	// Two IDs for the same title differ
	assert.NotEqual(t, NewDocumentID("same"), NewDocumentID("same"))
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 10, batchSize(400, 1))   // avg 400
	assert.Equal(t, 5, batchSize(600, 1))    // avg 600
	assert.Equal(t, 3, batchSize(5000, 1))   // avg 5000
	assert.Equal(t, 10, batchSize(0, 0))     // degenerate
	assert.Equal(t, 10, batchSize(9000, 30)) // avg 300
}

func TestAddDocument_StoresChunksAtomically(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{ChunkSize: 100, ChunkOverlap: 10})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	content := strings.Repeat("A reasonably plain sentence about nothing much. ", 20)
	meta, err := ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "Filler", Content: content,
	})
	require.NoError(t, err)

	assert.False(t, meta.IsEmbedded)
	assert.NotZero(t, meta.TotalChunks)
	assert.Len(t, meta.Checksum, 64)
	assert.EqualValues(t, len(content), meta.Size)

	// Content round-trips byte-identical
	doc, ok, err := f.store.GetDocument(ctx, "c1", meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, doc.Content)

	// total_chunks matches stored chunk count
	chunks, err := f.store.ListDocumentChunks(ctx, meta.ID)
	require.NoError(t, err)
	assert.EqualValues(t, meta.TotalChunks, len(chunks))
}

func TestAddDocument_Authorization(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{})
	ing := f.ingestor(embed.NewStaticProvider())

	_, err := ing.AddDocument(context.Background(), "stranger", AddDocumentRequest{
		CollectionID: "c1", Title: "t", Content: "some text",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotAuthorized))
}

func TestAddDocument_SizeAndCapLimits(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{MaxDocuments: 1})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	// Oversized content refused without state change
	_, err := ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "big", Content: strings.Repeat("x", MaxDocumentSize+1),
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeDocumentTooLarge))

	// Document cap enforced
	_, err = ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "one", Content: "first document text",
	})
	require.NoError(t, err)
	_, err = ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "two", Content: "second document text",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeLimitExceeded))
}

func TestAddDocumentAndEmbed_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{ChunkSize: 100, ChunkOverlap: 10, EmbeddingModel: "static"})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	content := strings.Repeat("Soccer is played everywhere. Fans love the game. ", 15)
	meta, err := ing.AddDocumentAndEmbed(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "Soccer", Content: content,
	}, "")
	require.NoError(t, err)
	assert.True(t, meta.IsEmbedded)

	// One vector per chunk, IDs derived from positions
	chunks, err := f.store.ListDocumentChunks(ctx, meta.ID)
	require.NoError(t, err)
	vectors, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, len(chunks), len(vectors))

	byID := map[string]*store.Vector{}
	for _, v := range vectors {
		byID[v.ID] = v
	}
	for _, c := range chunks {
		assert.Equal(t, fmt.Sprintf("%s:c:%d", meta.ID, c.Position), c.ID)
		v, ok := byID[fmt.Sprintf("%s:v:%d", meta.ID, c.Position)]
		require.True(t, ok, "missing vector for position %d", c.Position)
		assert.Equal(t, c.ID, v.ChunkID)
		assert.Greater(t, v.Norm, float32(0))
	}

	// Collection dimension established
	coll, err := f.collections.Get(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, embed.StaticDimensions, coll.Dimension)
}

func TestEmbedDocument_RollbackOnBatchFailure(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{ChunkSize: 100, ChunkOverlap: 10})
	ctx := context.Background()

	// Given: a pre-existing embedded vector in the collection
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		emb := make([]float32, embed.StaticDimensions)
		emb[0] = 1
		return tx.PutVector("c1", &store.Vector{
			ID: "seed:v:0", DocumentID: "seed", ChunkID: "seed:c:0",
			Embedding: emb, Norm: 1, Model: "static",
		})
	}))

	// And: a provider that fails on its second batch
	provider := &scriptedProvider{
		inner:    embed.NewStaticProvider(),
		failCall: 2,
		err:      embed.NewProviderError(embed.KindTransport, "mid-flight failure", nil),
	}
	ing := f.ingestor(provider)

	// 39 chunks at batch size 10 → 4 provider calls, the second one fails
	content := strings.Repeat("Each sentence lands in its own chunk roughly. ", 40)
	meta, err := ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "doomed", Content: content,
	})
	require.NoError(t, err)

	err = ing.EmbedDocument(ctx, "admin", "c1", meta.ID, "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingFailed))
	assert.GreaterOrEqual(t, provider.calls, int32(2))

	// Then: zero vectors for the new document
	vectors, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)
	assert.Empty(t, vectors)

	// The document and chunks remain, not embedded
	doc, ok, err := f.store.GetDocument(ctx, "c1", meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, doc.Meta.IsEmbedded)
	chunks, err := f.store.ListDocumentChunks(ctx, meta.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	// The pre-existing vector is untouched
	seed, ok, err := f.store.GetVector(ctx, "seed:v:0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "seed", seed.DocumentID)

	// And: a retry with a healthy provider succeeds
	provider.failCall = 0
	require.NoError(t, ing.EmbedDocument(ctx, "admin", "c1", meta.ID, ""))
	doc, _, err = f.store.GetDocument(ctx, "c1", meta.ID)
	require.NoError(t, err)
	assert.True(t, doc.Meta.IsEmbedded)
}

func TestEmbedDocument_ReEmbedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{ChunkSize: 120, ChunkOverlap: 12})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	meta, err := ing.AddDocumentAndEmbed(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "stable", Content: strings.Repeat("Same text every time. ", 30),
	}, "")
	require.NoError(t, err)

	before, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)

	require.NoError(t, ing.EmbedDocument(ctx, "admin", "c1", meta.ID, ""))
	after, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Embedding, after[i].Embedding)
	}
}

// blockingProvider parks in Embed until released.
type blockingProvider struct {
	entered  chan struct{}
	release  chan struct{}
	inner    embed.Provider
	entered1 atomic.Bool
}

func (b *blockingProvider) Embed(ctx context.Context, texts []string, model, proxyURL string) ([][]float32, error) {
	if b.entered1.CompareAndSwap(false, true) {
		close(b.entered)
	}
	<-b.release
	return b.inner.Embed(ctx, texts, model, proxyURL)
}

func TestEmbedDocument_ConcurrentAttemptFailsFast(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{})
	provider := &blockingProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		inner:   embed.NewStaticProvider(),
	}
	ing := f.ingestor(provider)
	ctx := context.Background()

	meta, err := ing.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "busy", Content: "short text to embed",
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ing.EmbedDocument(ctx, "admin", "c1", meta.ID, "") }()
	<-provider.entered

	// A second attempt while the first is parked fails fast
	err = ing.EmbedDocument(ctx, "admin", "c1", meta.ID, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyInProgress))

	close(provider.release)
	require.NoError(t, <-done)

	// After completion the guard is clear again
	require.NoError(t, ing.EmbedDocument(ctx, "admin", "c1", meta.ID, ""))
}

// fixedDimProvider returns vectors of a fixed dimension.
type fixedDimProvider struct{ dim int }

func (p *fixedDimProvider) Embed(_ context.Context, texts []string, _, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		v := make([]float32, p.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func TestEmbedDocument_DimensionMismatchRejected(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{})
	ctx := context.Background()

	// First document establishes dimension 8
	ing := f.ingestor(&fixedDimProvider{dim: 8})
	_, err := ing.AddDocumentAndEmbed(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "first", Content: "establishes the dimension",
	}, "")
	require.NoError(t, err)

	// A provider that suddenly returns dimension 16 must be rejected
	ing2 := f.ingestor(&fixedDimProvider{dim: 16})
	meta, err := ing2.AddDocument(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "second", Content: "would mismatch",
	})
	require.NoError(t, err)
	err = ing2.EmbedDocument(ctx, "admin", "c1", meta.ID, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))

	vectors, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestDeleteDocument_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{ChunkSize: 100, ChunkOverlap: 10})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	meta, err := ing.AddDocumentAndEmbed(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "gone", Content: strings.Repeat("Disposable words here. ", 25),
	}, "")
	require.NoError(t, err)

	require.NoError(t, ing.DeleteDocument(ctx, "admin", "c1", meta.ID))

	chunks, _ := f.store.ListDocumentChunks(ctx, meta.ID)
	assert.Empty(t, chunks)
	vectors, _ := f.store.ListDocumentVectors(ctx, meta.ID)
	assert.Empty(t, vectors)
	n, err := f.store.CountDocuments(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Deleting again reports not found
	err = ing.DeleteDocument(ctx, "admin", "c1", meta.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestDeleteDocumentVectors_KeepsDocument(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "c1", store.CollectionSettings{})
	ing := f.ingestor(embed.NewStaticProvider())
	ctx := context.Background()

	meta, err := ing.AddDocumentAndEmbed(ctx, "admin", AddDocumentRequest{
		CollectionID: "c1", Title: "keep", Content: "vectors will go, text stays",
	}, "")
	require.NoError(t, err)
	require.True(t, meta.IsEmbedded)

	require.NoError(t, ing.DeleteDocumentVectors(ctx, "admin", "c1", meta.ID))

	doc, ok, err := f.store.GetDocument(ctx, "c1", meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, doc.Meta.IsEmbedded)
	vectors, err := f.store.ListDocumentVectors(ctx, meta.ID)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	chunks, err := f.store.ListDocumentChunks(ctx, meta.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}
