// Package api is the public façade of the vector database core: request
// validation, authorization checks, orchestration across components, and
// result enrichment. Every public operation of the system is a method on
// API; transports (the daemon, tests) call these directly.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/collection"
	"github.com/acgodson/blueband/internal/embed"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/ingest"
	"github.com/acgodson/blueband/internal/store"
)

// API wires the core components behind the public operations.
type API struct {
	store       *store.Store
	cache       *cache.VectorCache
	collections *collection.Manager
	ingestor    *ingest.Ingestor
	provider    embed.Provider
	logger      *slog.Logger

	// flight deduplicates concurrent cold-cache vector loads per
	// collection.
	flight singleflight.Group
}

// New assembles the façade over an opened store and an embedding provider.
func New(st *store.Store, provider embed.Provider, cacheCfg cache.Config, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	vc := cache.New(cacheCfg)
	cm := collection.NewManager(st, vc, logger)
	return &API{
		store:       st,
		cache:       vc,
		collections: cm,
		ingestor:    ingest.NewIngestor(st, vc, cm, provider, logger),
		provider:    provider,
		logger:      logger,
	}
}

// --- Collection operations ---

// CreateCollection creates a collection; the caller becomes genesis admin.
func (a *API) CreateCollection(ctx context.Context, caller string, req collection.CreateRequest) (*store.Collection, error) {
	return a.collections.Create(ctx, caller, req)
}

// GetCollection returns a collection by ID.
func (a *API) GetCollection(ctx context.Context, collectionID string) (*store.Collection, error) {
	return a.collections.Get(ctx, collectionID)
}

// ListCollections returns all collections.
func (a *API) ListCollections(ctx context.Context) ([]*store.Collection, error) {
	return a.collections.List(ctx)
}

// GetCollectionWithStats returns a collection with document/vector counts.
func (a *API) GetCollectionWithStats(ctx context.Context, collectionID string) (*collection.WithStats, error) {
	return a.collections.GetWithStats(ctx, collectionID)
}

// ListCollectionsWithStats returns all collections with counters.
func (a *API) ListCollectionsWithStats(ctx context.Context) ([]*collection.WithStats, error) {
	return a.collections.ListWithStats(ctx)
}

// UpdateCollectionMetadata updates name and/or description.
func (a *API) UpdateCollectionMetadata(ctx context.Context, caller, collectionID string, name, description *string) (*store.Collection, error) {
	return a.collections.UpdateMetadata(ctx, caller, collectionID, name, description)
}

// UpdateCollectionSettings replaces the collection settings.
func (a *API) UpdateCollectionSettings(ctx context.Context, caller, collectionID string, settings store.CollectionSettings) (*store.Collection, error) {
	return a.collections.UpdateSettings(ctx, caller, collectionID, settings)
}

// DeleteCollection destroys a collection and all owned data.
func (a *API) DeleteCollection(ctx context.Context, caller, collectionID string) error {
	return a.collections.Delete(ctx, caller, collectionID)
}

// --- Admin operations ---

// AddCollectionAdmin grants admin rights. Genesis only.
func (a *API) AddCollectionAdmin(ctx context.Context, caller, collectionID, principal string) error {
	return a.collections.AddAdmin(ctx, caller, collectionID, principal)
}

// RemoveCollectionAdmin revokes admin rights. Genesis only.
func (a *API) RemoveCollectionAdmin(ctx context.Context, caller, collectionID, principal string) error {
	return a.collections.RemoveAdmin(ctx, caller, collectionID, principal)
}

// TransferGenesisAdmin moves genesis authority to an existing admin.
func (a *API) TransferGenesisAdmin(ctx context.Context, caller, collectionID, principal string) error {
	return a.collections.TransferGenesis(ctx, caller, collectionID, principal)
}

// IsCollectionAdmin reports whether a principal holds admin rights.
func (a *API) IsCollectionAdmin(ctx context.Context, collectionID, principal string) (bool, error) {
	coll, err := a.collections.Get(ctx, collectionID)
	if err != nil {
		return false, err
	}
	return coll.IsAdmin(principal), nil
}

// GetMyAdminLevel returns the caller's admin level.
func (a *API) GetMyAdminLevel(ctx context.Context, caller, collectionID string) (collection.AdminLevel, error) {
	return a.collections.Level(ctx, collectionID, caller)
}

// ListCollectionAdmins lists all admins, genesis first.
func (a *API) ListCollectionAdmins(ctx context.Context, collectionID string) ([]string, error) {
	return a.collections.Admins(ctx, collectionID)
}

// GetGenesisAdmin returns the genesis principal.
func (a *API) GetGenesisAdmin(ctx context.Context, collectionID string) (string, error) {
	coll, err := a.collections.Get(ctx, collectionID)
	if err != nil {
		return "", err
	}
	return coll.GenesisAdmin, nil
}

// --- Document operations ---

// AddDocument inserts a document without embedding, unless the collection
// has auto_embed set, in which case the embed phase runs too.
func (a *API) AddDocument(ctx context.Context, caller string, req ingest.AddDocumentRequest) (*store.DocumentMetadata, error) {
	coll, err := a.collections.Get(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if coll.Settings.AutoEmbed {
		return a.ingestor.AddDocumentAndEmbed(ctx, caller, req, "")
	}
	return a.ingestor.AddDocument(ctx, caller, req)
}

// AddDocumentAndEmbed inserts a document and embeds it. proxyURL overrides
// the collection's configured proxy for this call.
func (a *API) AddDocumentAndEmbed(ctx context.Context, caller string, req ingest.AddDocumentRequest, proxyURL string) (*store.DocumentMetadata, error) {
	return a.ingestor.AddDocumentAndEmbed(ctx, caller, req, proxyURL)
}

// GetDocument returns a document's metadata.
func (a *API) GetDocument(ctx context.Context, collectionID, documentID string) (*store.DocumentMetadata, error) {
	doc, ok, err := a.store.GetDocument(ctx, collectionID, documentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("document %s", documentID))
	}
	meta := doc.Meta
	return &meta, nil
}

// GetDocumentContent returns the verbatim stored content.
func (a *API) GetDocumentContent(ctx context.Context, collectionID, documentID string) (string, error) {
	doc, ok, err := a.store.GetDocument(ctx, collectionID, documentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound(fmt.Sprintf("document %s", documentID))
	}
	return doc.Content, nil
}

// GetDocumentChunks returns a document's chunks in position order.
func (a *API) GetDocumentChunks(ctx context.Context, documentID string) ([]*store.SemanticChunk, error) {
	chunks, err := a.store.ListDocumentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("chunks for document %s", documentID))
	}
	return chunks, nil
}

// ListDocuments returns metadata for every document in a collection.
func (a *API) ListDocuments(ctx context.Context, collectionID string) ([]*store.DocumentMetadata, error) {
	if _, err := a.collections.Get(ctx, collectionID); err != nil {
		return nil, err
	}
	return a.store.ListDocuments(ctx, collectionID)
}

// DeleteDocument removes a document with its chunks and vectors.
func (a *API) DeleteDocument(ctx context.Context, caller, collectionID, documentID string) error {
	return a.ingestor.DeleteDocument(ctx, caller, collectionID, documentID)
}

// EmbedExistingDocument (re)runs the embed phase for a stored document.
func (a *API) EmbedExistingDocument(ctx context.Context, caller, collectionID, documentID string) error {
	return a.ingestor.EmbedDocument(ctx, caller, collectionID, documentID, "")
}

// DeleteDocumentVectors removes a document's vectors, keeping the document.
func (a *API) DeleteDocumentVectors(ctx context.Context, caller, collectionID, documentID string) error {
	return a.ingestor.DeleteDocumentVectors(ctx, caller, collectionID, documentID)
}
