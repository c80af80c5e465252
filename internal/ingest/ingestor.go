// Package ingest implements the document ingestion pipeline: chunking,
// atomic document commit, batched embedding with validation, and rollback on
// partial failure.
package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/chunk"
	"github.com/acgodson/blueband/internal/collection"
	"github.com/acgodson/blueband/internal/embed"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/search"
	"github.com/acgodson/blueband/internal/store"
)

// Resource caps for the ingest path.
const (
	// MaxDocumentSize bounds raw content length.
	MaxDocumentSize = 10 << 20 // 10 MiB
	// MaxBatchSize caps how many chunks go to the provider per call.
	MaxBatchSize = 50
)

// AddDocumentRequest carries the inputs for document insertion.
type AddDocumentRequest struct {
	CollectionID string            `json:"collection_id"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	ContentType  store.ContentType `json:"content_type,omitempty"`
	SourceURL    string            `json:"source_url,omitempty"`
	Author       string            `json:"author,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Ingestor coordinates the pipeline. Same-document embeds are serialized by
// an in-memory in-progress set; a second attempt while one runs fails fast.
type Ingestor struct {
	store       *store.Store
	cache       *cache.VectorCache
	collections *collection.Manager
	provider    embed.Provider
	logger      *slog.Logger

	mu         sync.Mutex
	inProgress map[string]struct{}

	now func() uint64
}

// NewIngestor creates an ingestor.
func NewIngestor(st *store.Store, vc *cache.VectorCache, cm *collection.Manager, provider embed.Provider, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:       st,
		cache:       vc,
		collections: cm,
		provider:    provider,
		logger:      logger,
		inProgress:  make(map[string]struct{}),
		now:         func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// NewDocumentID derives a document ID: a short human-readable prefix from
// the sanitized title plus 64 bits of randomness in hex.
func NewDocumentID(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == 4 {
				break
			}
		}
	}
	prefix := b.String()
	if prefix == "" {
		prefix = "doc"
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// the clock rather than aborting ingestion.
		ts := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(ts >> (8 * i))
		}
	}
	return prefix + "_" + hex.EncodeToString(buf[:])
}

// AddDocument validates and inserts a document: metadata plus all chunks and
// index entries in one atomic operation, with is_embedded=false.
func (ing *Ingestor) AddDocument(ctx context.Context, caller string, req AddDocumentRequest) (*store.DocumentMetadata, error) {
	coll, err := ing.collections.RequireAdmin(ctx, caller, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.InvalidInput("title", "must not be empty")
	}
	if req.Content == "" {
		return nil, errors.InvalidInput("content", "must not be empty")
	}
	if len(req.Content) > MaxDocumentSize {
		return nil, errors.New(errors.ErrCodeDocumentTooLarge,
			fmt.Sprintf("content is %d bytes; maximum is %d", len(req.Content), MaxDocumentSize), nil)
	}

	if coll.Settings.MaxDocuments > 0 {
		count, err := ing.store.CountDocuments(ctx, coll.ID)
		if err != nil {
			return nil, err
		}
		if count >= int64(coll.Settings.MaxDocuments) {
			return nil, errors.ResourceExhausted(
				fmt.Sprintf("collection %s document cap of %d", coll.ID, coll.Settings.MaxDocuments))
		}
	}

	documentID := NewDocumentID(req.Title)
	checksum := sha256.Sum256([]byte(req.Content))

	chunks, err := chunk.Split(req.Content, documentID, chunk.Options{
		ChunkSize:    int(coll.Settings.ChunkSize),
		ChunkOverlap: int(coll.Settings.ChunkOverlap),
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errors.InvalidInput("content", "no chunkable text")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = store.ContentTypePlainText
	}

	doc := &store.Document{
		Meta: store.DocumentMetadata{
			ID:           documentID,
			CollectionID: coll.ID,
			Title:        req.Title,
			ContentType:  contentType,
			SourceURL:    req.SourceURL,
			Author:       req.Author,
			Tags:         req.Tags,
			Timestamp:    ing.now(),
			Size:         uint64(len([]rune(req.Content))),
			TotalChunks:  uint32(len(chunks)),
			Checksum:     hex.EncodeToString(checksum[:]),
		},
		Content: req.Content,
	}

	err = ing.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.PutDocument(doc); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := tx.PutChunk(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ing.cache.Invalidate(coll.ID)

	ing.logger.Info("document_added",
		slog.String("collection", coll.ID),
		slog.String("document", documentID),
		slog.Int("chunks", len(chunks)))

	meta := doc.Meta
	return &meta, nil
}

// AddDocumentAndEmbed inserts a document and then runs the embed phase. The
// document and its chunks survive an embedding failure; callers may retry
// with EmbedDocument.
func (ing *Ingestor) AddDocumentAndEmbed(ctx context.Context, caller string, req AddDocumentRequest, proxyURL string) (*store.DocumentMetadata, error) {
	meta, err := ing.AddDocument(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	if err := ing.EmbedDocument(ctx, caller, req.CollectionID, meta.ID, proxyURL); err != nil {
		return nil, err
	}

	doc, ok, err := ing.store.GetDocument(ctx, req.CollectionID, meta.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("document %s", meta.ID))
	}
	out := doc.Meta
	return &out, nil
}

// batchSize picks the embedding batch dynamically: long chunks go in small
// batches so a single provider call stays bounded.
func batchSize(contentLen, chunkCount int) int {
	if chunkCount < 1 {
		chunkCount = 1
	}
	avg := contentLen / chunkCount
	b := 10
	switch {
	case avg > 1000:
		b = 3
	case avg > 500:
		b = 5
	}
	if b > MaxBatchSize {
		b = MaxBatchSize
	}
	return b
}

// EmbedDocument runs the embed phase for an already-stored document. The
// operation either completes fully (every chunk gets a vector and
// is_embedded flips true) or rolls back to zero vectors.
//
// Re-embedding an embedded document deletes its vectors and clears
// is_embedded first, then re-runs the pipeline.
func (ing *Ingestor) EmbedDocument(ctx context.Context, caller, collectionID, documentID, proxyURL string) error {
	coll, err := ing.collections.RequireAdmin(ctx, caller, collectionID)
	if err != nil {
		return err
	}

	key := collectionID + "/" + documentID
	ing.mu.Lock()
	if _, busy := ing.inProgress[key]; busy {
		ing.mu.Unlock()
		return errors.AlreadyInProgress(documentID)
	}
	ing.inProgress[key] = struct{}{}
	ing.mu.Unlock()
	defer func() {
		ing.mu.Lock()
		delete(ing.inProgress, key)
		ing.mu.Unlock()
	}()

	doc, ok, err := ing.store.GetDocument(ctx, collectionID, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(fmt.Sprintf("document %s", documentID))
	}

	chunks, err := ing.store.ListDocumentChunks(ctx, documentID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errors.InvalidInput("document", "has no chunks to embed")
	}

	// Idempotence: drop any existing vectors before re-running.
	err = ing.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteDocumentVectors(collectionID, documentID); err != nil {
			return err
		}
		cur, ok, err := tx.GetDocument(collectionID, documentID)
		if err != nil || !ok || !cur.Meta.IsEmbedded {
			return err
		}
		cur.Meta.IsEmbedded = false
		return tx.PutDocument(cur)
	})
	if err != nil {
		return err
	}
	ing.cache.Invalidate(collectionID)

	if proxyURL == "" {
		proxyURL = coll.Settings.ProxyURL
	}
	model := coll.Settings.EmbeddingModel

	dim := int(coll.Dimension)
	batch := batchSize(len(doc.Content), len(chunks))
	var written []string

	rollback := func() {
		rbErr := ing.store.Update(ctx, func(tx *store.Tx) error {
			for _, id := range written {
				if err := tx.DeleteVector(collectionID, id); err != nil {
					return err
				}
			}
			return nil
		})
		if rbErr != nil {
			ing.logger.Error("embed_rollback_failed",
				slog.String("document", documentID),
				slog.String("error", rbErr.Error()))
		}
		ing.cache.Invalidate(collectionID)
	}

	for batchStart := 0; batchStart < len(chunks); batchStart += batch {
		end := batchStart + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		part := chunks[batchStart:end]

		texts := make([]string, len(part))
		for i, c := range part {
			texts[i] = c.Text
		}

		embeddings, err := ing.provider.Embed(ctx, texts, model, proxyURL)
		if err != nil {
			rollback()
			return errors.EmbeddingFailed(
				fmt.Sprintf("batch covering chunks %d-%d failed", part[0].Position, part[len(part)-1].Position), err)
		}
		if len(embeddings) != len(texts) {
			rollback()
			return errors.EmbeddingFailed(
				fmt.Sprintf("provider returned %d embeddings for %d chunks", len(embeddings), len(texts)), nil)
		}

		vectors := make([]*store.Vector, len(part))
		for i, c := range part {
			norm, err := search.ValidateEmbedding(embeddings[i])
			if err != nil {
				rollback()
				return err
			}
			if dim == 0 {
				dim = len(embeddings[i])
			} else if len(embeddings[i]) != dim {
				rollback()
				return errors.DimensionMismatch(dim, len(embeddings[i]))
			}
			vectors[i] = &store.Vector{
				ID:         chunk.VectorID(documentID, int(c.Position)),
				DocumentID: documentID,
				ChunkID:    c.ID,
				Embedding:  embeddings[i],
				Norm:       norm,
				Model:      model,
				CreatedAt:  ing.now(),
			}
		}

		// Commit the batch in position order so the vector set is always
		// prefix-complete on disk.
		err = ing.store.Update(ctx, func(tx *store.Tx) error {
			for _, v := range vectors {
				if err := tx.PutVector(collectionID, v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			rollback()
			return err
		}
		for _, v := range vectors {
			written = append(written, v.ID)
		}
	}

	// Success: flip is_embedded and pin the collection dimension.
	err = ing.store.Update(ctx, func(tx *store.Tx) error {
		cur, ok, err := tx.GetDocument(collectionID, documentID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(fmt.Sprintf("document %s", documentID))
		}
		cur.Meta.IsEmbedded = true
		if err := tx.PutDocument(cur); err != nil {
			return err
		}

		c, ok, err := tx.GetCollection(collectionID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(fmt.Sprintf("collection %s", collectionID))
		}
		if c.Dimension != 0 && int(c.Dimension) != dim {
			return errors.DimensionMismatch(int(c.Dimension), dim)
		}
		if c.Dimension == 0 {
			c.Dimension = uint32(dim)
			c.UpdatedAt = ing.now()
			if err := tx.PutCollection(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		rollback()
		return err
	}
	ing.cache.Invalidate(collectionID)

	ing.logger.Info("document_embedded",
		slog.String("collection", collectionID),
		slog.String("document", documentID),
		slog.Int("vectors", len(written)),
		slog.Int("dimension", dim))
	return nil
}

// DeleteDocument removes a document, its chunks, and its vectors. Admin only.
func (ing *Ingestor) DeleteDocument(ctx context.Context, caller, collectionID, documentID string) error {
	if _, err := ing.collections.RequireAdmin(ctx, caller, collectionID); err != nil {
		return err
	}

	err := ing.store.Update(ctx, func(tx *store.Tx) error {
		if _, ok, err := tx.GetDocument(collectionID, documentID); err != nil {
			return err
		} else if !ok {
			return errors.NotFound(fmt.Sprintf("document %s", documentID))
		}
		return tx.DeleteDocumentCascade(collectionID, documentID)
	})
	if err != nil {
		return err
	}
	ing.cache.Invalidate(collectionID)
	ing.logger.Info("document_deleted",
		slog.String("collection", collectionID),
		slog.String("document", documentID))
	return nil
}

// DeleteDocumentVectors removes a document's vectors and clears is_embedded,
// leaving the document and chunks in place. Admin only.
func (ing *Ingestor) DeleteDocumentVectors(ctx context.Context, caller, collectionID, documentID string) error {
	if _, err := ing.collections.RequireAdmin(ctx, caller, collectionID); err != nil {
		return err
	}

	err := ing.store.Update(ctx, func(tx *store.Tx) error {
		doc, ok, err := tx.GetDocument(collectionID, documentID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(fmt.Sprintf("document %s", documentID))
		}
		if err := tx.DeleteDocumentVectors(collectionID, documentID); err != nil {
			return err
		}
		doc.Meta.IsEmbedded = false
		return tx.PutDocument(doc)
	})
	if err != nil {
		return err
	}
	ing.cache.Invalidate(collectionID)
	return nil
}
