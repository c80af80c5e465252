// Package collection manages collection lifecycle, settings, and the
// two-tier admin ACL.
//
// Every collection has exactly one genesis admin at all times. Genesis
// authority is derived from the named field and is never duplicated into the
// admin set; it changes only through an explicit transfer.
package collection

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/store"
)

// AdminLevel is the caller's authority over a collection.
type AdminLevel string

const (
	LevelGenesis AdminLevel = "genesis"
	LevelAdmin   AdminLevel = "admin"
	LevelNone    AdminLevel = "none"
)

var (
	collectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	reservedIDPrefixes  = []string{"__", "admin", "system"}
)

// CreateRequest carries the inputs for creating a collection. Zero-valued
// settings fields take defaults.
type CreateRequest struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Settings    store.CollectionSettings `json:"settings"`
}

// WithStats pairs a collection with its corpus counters.
type WithStats struct {
	Collection    *store.Collection `json:"collection"`
	DocumentCount int64             `json:"document_count"`
	VectorCount   int64             `json:"vector_count"`
}

// Manager owns the collection table and ACL checks.
type Manager struct {
	store  *store.Store
	cache  *cache.VectorCache
	logger *slog.Logger

	// now is swappable for tests; timestamps are monotonic nanoseconds.
	now func() uint64
}

// NewManager creates a collection manager.
func NewManager(st *store.Store, vc *cache.VectorCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		cache:  vc,
		logger: logger,
		now:    func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// ValidateID checks the collection ID format: 1-64 chars of [A-Za-z0-9_-],
// not starting with a reserved prefix.
func ValidateID(id string) error {
	if !collectionIDPattern.MatchString(id) {
		return errors.InvalidInput("collection_id",
			"must be 1-64 characters of letters, digits, underscore, or dash")
	}
	for _, prefix := range reservedIDPrefixes {
		if strings.HasPrefix(id, prefix) {
			return errors.InvalidInput("collection_id",
				fmt.Sprintf("may not start with reserved prefix %q", prefix))
		}
	}
	return nil
}

func validateSettings(s *store.CollectionSettings) error {
	if s.ChunkSize == 0 {
		s.ChunkSize = store.DefaultChunkSize
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return errors.InvalidInput("chunk_overlap", "must be smaller than chunk_size")
	}
	return nil
}

// Create makes a new collection; the caller becomes genesis admin.
func (m *Manager) Create(ctx context.Context, caller string, req CreateRequest) (*store.Collection, error) {
	if caller == "" {
		return nil, errors.NotAuthorized("caller principal required")
	}
	if err := ValidateID(req.ID); err != nil {
		return nil, err
	}
	settings := req.Settings
	if settings.ChunkOverlap == 0 && settings.ChunkSize == 0 {
		settings.ChunkOverlap = store.DefaultChunkOverlap
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}

	now := m.now()
	coll := &store.Collection{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
		GenesisAdmin: caller,
		Settings:     settings,
	}

	err := m.store.Update(ctx, func(tx *store.Tx) error {
		if _, exists, err := tx.GetCollection(req.ID); err != nil {
			return err
		} else if exists {
			return errors.AlreadyExists(fmt.Sprintf("collection %s", req.ID))
		}
		return tx.PutCollection(coll)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("collection_created",
		slog.String("collection", coll.ID),
		slog.String("genesis_admin", caller))
	return coll, nil
}

// Get returns a collection or NotFound.
func (m *Manager) Get(ctx context.Context, id string) (*store.Collection, error) {
	coll, ok, err := m.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("collection %s", id))
	}
	return coll, nil
}

// List returns all collections in ID order.
func (m *Manager) List(ctx context.Context) ([]*store.Collection, error) {
	return m.store.ListCollections(ctx)
}

// GetWithStats returns a collection plus document and vector counts computed
// from the secondary indexes.
func (m *Manager) GetWithStats(ctx context.Context, id string) (*WithStats, error) {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.CountDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	vecs, err := m.store.CountVectors(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WithStats{Collection: coll, DocumentCount: docs, VectorCount: vecs}, nil
}

// ListWithStats returns all collections with their counters.
func (m *Manager) ListWithStats(ctx context.Context) ([]*WithStats, error) {
	colls, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*WithStats, 0, len(colls))
	for _, coll := range colls {
		docs, err := m.store.CountDocuments(ctx, coll.ID)
		if err != nil {
			return nil, err
		}
		vecs, err := m.store.CountVectors(ctx, coll.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &WithStats{Collection: coll, DocumentCount: docs, VectorCount: vecs})
	}
	return out, nil
}

// RequireAdmin returns the collection if caller holds admin rights.
func (m *Manager) RequireAdmin(ctx context.Context, caller, id string) (*store.Collection, error) {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !coll.IsAdmin(caller) {
		return nil, errors.NotAuthorized(
			fmt.Sprintf("principal is not an admin of collection %s", id))
	}
	return coll, nil
}

// UpdateMetadata changes name and/or description. Admin only.
func (m *Manager) UpdateMetadata(ctx context.Context, caller, id string, name, description *string) (*store.Collection, error) {
	if _, err := m.RequireAdmin(ctx, caller, id); err != nil {
		return nil, err
	}

	var updated *store.Collection
	err := m.mutate(ctx, id, func(coll *store.Collection) error {
		if name != nil {
			coll.Name = *name
		}
		if description != nil {
			coll.Description = *description
		}
		updated = coll
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSettings replaces a collection's settings. Admin only. Changes to
// chunk geometry or the embedding model are refused while the collection
// holds vectors, since they would invalidate the dimensionality invariant
// and stored-chunk derivation.
func (m *Manager) UpdateSettings(ctx context.Context, caller, id string, settings store.CollectionSettings) (*store.Collection, error) {
	coll, err := m.RequireAdmin(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}

	old := coll.Settings
	reindexing := settings.ChunkSize != old.ChunkSize ||
		settings.ChunkOverlap != old.ChunkOverlap ||
		settings.EmbeddingModel != old.EmbeddingModel
	if reindexing {
		vectors, err := m.store.CountVectors(ctx, id)
		if err != nil {
			return nil, err
		}
		if vectors > 0 {
			return nil, errors.InvalidInput("settings",
				"chunk_size, chunk_overlap, and embedding_model are frozen while the collection holds vectors")
		}
	}

	var updated *store.Collection
	err = m.mutate(ctx, id, func(coll *store.Collection) error {
		coll.Settings = settings
		if settings.EmbeddingModel != old.EmbeddingModel {
			// A fresh model re-establishes dimensionality on next embed.
			coll.Dimension = 0
		}
		updated = coll
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.cache.Invalidate(id)
	return updated, nil
}

// AddAdmin grants admin rights. Genesis only; duplicates are a no-op.
func (m *Manager) AddAdmin(ctx context.Context, caller, id, principal string) error {
	if principal == "" {
		return errors.InvalidInput("principal", "must not be empty")
	}
	return m.genesisMutate(ctx, caller, id, func(coll *store.Collection) error {
		if principal == coll.GenesisAdmin {
			return nil // genesis already holds all admin rights
		}
		for _, a := range coll.Admins {
			if a == principal {
				return nil
			}
		}
		coll.Admins = append(coll.Admins, principal)
		return nil
	})
}

// RemoveAdmin revokes admin rights. Genesis only; removing genesis is
// refused (transfer instead).
func (m *Manager) RemoveAdmin(ctx context.Context, caller, id, principal string) error {
	return m.genesisMutate(ctx, caller, id, func(coll *store.Collection) error {
		if principal == coll.GenesisAdmin {
			return errors.InvalidInput("principal",
				"genesis admin cannot be removed; transfer genesis first")
		}
		for i, a := range coll.Admins {
			if a == principal {
				coll.Admins = append(coll.Admins[:i], coll.Admins[i+1:]...)
				return nil
			}
		}
		return errors.NotFound(fmt.Sprintf("admin %s", principal))
	})
}

// TransferGenesis moves genesis authority to an existing admin. The old
// genesis stays on as a regular admin.
func (m *Manager) TransferGenesis(ctx context.Context, caller, id, newGenesis string) error {
	return m.genesisMutate(ctx, caller, id, func(coll *store.Collection) error {
		if newGenesis == coll.GenesisAdmin {
			return errors.InvalidInput("principal", "already the genesis admin")
		}
		idx := -1
		for i, a := range coll.Admins {
			if a == newGenesis {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.InvalidInput("principal",
				"new genesis must already be an admin of the collection")
		}

		old := coll.GenesisAdmin
		coll.Admins = append(coll.Admins[:idx], coll.Admins[idx+1:]...)
		coll.Admins = append(coll.Admins, old)
		coll.GenesisAdmin = newGenesis
		m.logger.Info("genesis_transferred",
			slog.String("collection", coll.ID),
			slog.String("from", old),
			slog.String("to", newGenesis))
		return nil
	})
}

// Delete destroys a collection and everything it owns. Genesis only.
func (m *Manager) Delete(ctx context.Context, caller, id string) error {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller != coll.GenesisAdmin {
		return errors.NotAuthorized("only the genesis admin may delete a collection")
	}

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		return tx.DeleteCollectionCascade(id)
	})
	if err != nil {
		return err
	}
	m.cache.Invalidate(id)
	m.logger.Info("collection_deleted", slog.String("collection", id))
	return nil
}

// Level returns the caller's admin level for a collection.
func (m *Manager) Level(ctx context.Context, id, principal string) (AdminLevel, error) {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return LevelNone, err
	}
	switch {
	case principal == coll.GenesisAdmin:
		return LevelGenesis, nil
	case coll.IsAdmin(principal):
		return LevelAdmin, nil
	default:
		return LevelNone, nil
	}
}

// Admins lists every principal with admin rights, genesis first.
func (m *Manager) Admins(ctx context.Context, id string) ([]string, error) {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(coll.Admins)+1)
	out = append(out, coll.GenesisAdmin)
	out = append(out, coll.Admins...)
	return out, nil
}

// mutate rereads the collection inside the write transaction, applies fn,
// bumps UpdatedAt, and writes it back.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*store.Collection) error) error {
	return m.store.Update(ctx, func(tx *store.Tx) error {
		coll, ok, err := tx.GetCollection(id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(fmt.Sprintf("collection %s", id))
		}
		if err := fn(coll); err != nil {
			return err
		}
		coll.UpdatedAt = m.now()
		return tx.PutCollection(coll)
	})
}

// genesisMutate is mutate gated on genesis authority.
func (m *Manager) genesisMutate(ctx context.Context, caller, id string, fn func(*store.Collection) error) error {
	coll, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller != coll.GenesisAdmin {
		return errors.NotAuthorized("operation requires the genesis admin")
	}
	return m.mutate(ctx, id, fn)
}
