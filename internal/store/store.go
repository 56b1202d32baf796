package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/logger"
)

const (
	ownerPrefix   = "owner:"
	libraryPrefix = "library:"
	itemPrefix    = "item:"

	indexOwner       = "ownerId"
	indexLibrary     = "libraryId"
	indexSharedGroup = "sharedGroupId"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	Owners    *Entity[domain.Owner]
	Libraries *Entity[domain.Library]
	Items     *Entity[domain.CollectionItem]
}

var _ RecordStore = (*Store)(nil)

// New opens (or creates) a Badger database at path.
func New(path string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // A synced batch must survive a crash right after Done
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup
	return open(opts, log)
}

// NewInMemory opens a throwaway Badger database, used by tests and the
// loopback demo.
func NewInMemory(log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, log)
}

func open(opts badger.Options, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.OrDiscard(log),
	}
	s.initEntities()

	s.logger.Info("Badger database opened", "path", opts.Dir, "in_memory", opts.InMemory)
	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

func (s *Store) initEntities() {
	s.Owners = NewEntity(s, ownerPrefix, func(o *domain.Owner) string { return o.OwnerID })

	s.Libraries = NewEntity(s, libraryPrefix, func(l *domain.Library) string { return l.LibraryID }).
		WithIndex(indexOwner, func(l *domain.Library) []string { return nonEmpty(l.OwnerID) }).
		WithIndex(indexSharedGroup, func(l *domain.Library) []string { return nonEmpty(l.GroupID()) })

	s.Items = NewEntity(s, itemPrefix, func(i *domain.CollectionItem) string { return i.ItemID }).
		WithIndex(indexLibrary, func(i *domain.CollectionItem) []string { return nonEmpty(i.LibraryID) }).
		WithIndex(indexOwner, func(i *domain.CollectionItem) []string { return nonEmpty(i.OwnerID) }).
		WithIndex(indexSharedGroup, func(i *domain.CollectionItem) []string { return nonEmpty(i.GroupID()) })
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// Owners.

// CreateOwner stores a new owner. Returns ErrAlreadyExists on duplicate ID.
func (s *Store) CreateOwner(ctx context.Context, owner *domain.Owner) error {
	return s.Owners.Create(ctx, owner)
}

// GetOwner retrieves an owner by ID.
func (s *Store) GetOwner(ctx context.Context, id string) (*domain.Owner, error) {
	return s.Owners.Get(ctx, id)
}

// UpdateOwner replaces an existing owner.
func (s *Store) UpdateOwner(ctx context.Context, owner *domain.Owner) error {
	return s.Owners.Update(ctx, owner)
}

// ListOwners returns every owner known to this device.
func (s *Store) ListOwners(ctx context.Context) ([]*domain.Owner, error) {
	return s.Owners.Collect(ctx)
}

// Libraries.

// CreateLibrary stores a new library.
func (s *Store) CreateLibrary(ctx context.Context, lib *domain.Library) error {
	return s.Libraries.Create(ctx, lib)
}

// GetLibrary retrieves a library by its device-local ID.
func (s *Store) GetLibrary(ctx context.Context, id string) (*domain.Library, error) {
	return s.Libraries.Get(ctx, id)
}

// UpdateLibrary replaces an existing library.
func (s *Store) UpdateLibrary(ctx context.Context, lib *domain.Library) error {
	return s.Libraries.Update(ctx, lib)
}

// ListLibraries returns all libraries ordered by creation time.
func (s *Store) ListLibraries(ctx context.Context) ([]*domain.Library, error) {
	libs, err := s.Libraries.Collect(ctx)
	if err != nil {
		return nil, err
	}
	sortLibraries(libs)
	return libs, nil
}

// ListLibrariesByOwner returns the libraries of one owner.
func (s *Store) ListLibrariesByOwner(ctx context.Context, ownerID string) ([]*domain.Library, error) {
	libs, err := s.Libraries.ListByIndex(ctx, indexOwner, ownerID)
	if err != nil {
		return nil, err
	}
	sortLibraries(libs)
	return libs, nil
}

// ListLibrariesBySharedGroup returns the local libraries joined to a shared group.
func (s *Store) ListLibrariesBySharedGroup(ctx context.Context, groupID string) ([]*domain.Library, error) {
	libs, err := s.Libraries.ListByIndex(ctx, indexSharedGroup, groupID)
	if err != nil {
		return nil, err
	}
	sortLibraries(libs)
	return libs, nil
}

// ListSharedLibraries returns every library that has a shared group.
func (s *Store) ListSharedLibraries(ctx context.Context) ([]*domain.Library, error) {
	libs, err := s.ListLibraries(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(libs, func(l *domain.Library) bool { return !l.IsShared() }), nil
}

func sortLibraries(libs []*domain.Library) {
	slices.SortStableFunc(libs, func(a, b *domain.Library) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.LibraryID, b.LibraryID)
	})
}

// Collection items.

// CreateItem stores a new collection item.
func (s *Store) CreateItem(ctx context.Context, item *domain.CollectionItem) error {
	return s.Items.Create(ctx, item)
}

// GetItem retrieves an item by its global ID.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.CollectionItem, error) {
	return s.Items.Get(ctx, id)
}

// UpdateItem replaces an existing item.
func (s *Store) UpdateItem(ctx context.Context, item *domain.CollectionItem) error {
	return s.Items.Update(ctx, item)
}

// DeleteItem removes an item locally. Deletions are never propagated by sync.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.Items.Delete(ctx, id)
}

// ListItemsByLibrary returns the items of one local library.
func (s *Store) ListItemsByLibrary(ctx context.Context, libraryID string) ([]*domain.CollectionItem, error) {
	return s.Items.ListByIndex(ctx, indexLibrary, libraryID)
}

// ListItemsBySharedGroup returns every local item tagged with a shared group,
// whichever local library it sits in.
func (s *Store) ListItemsBySharedGroup(ctx context.Context, groupID string) ([]*domain.CollectionItem, error) {
	return s.Items.ListByIndex(ctx, indexSharedGroup, groupID)
}

// CountItemsByLibrary counts the items of one local library.
func (s *Store) CountItemsByLibrary(ctx context.Context, libraryID string) (int, error) {
	return s.Items.CountByIndex(ctx, indexLibrary, libraryID)
}

// ApplySync writes the whole batch in a single Badger transaction.
func (s *Store) ApplySync(ctx context.Context, batch SyncBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, group := range [][]domain.Owner{batch.OwnersToInsert, batch.OwnersToUpdate} {
			for i := range group {
				if err := s.Owners.putTxn(txn, &group[i]); err != nil {
					return fmt.Errorf("owner %s: %w", group[i].OwnerID, err)
				}
			}
		}
		for _, group := range [][]domain.CollectionItem{batch.ItemsToInsert, batch.ItemsToUpdate} {
			for i := range group {
				if err := s.Items.putTxn(txn, &group[i]); err != nil {
					return fmt.Errorf("item %s: %w", group[i].ItemID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply sync batch: %w", err)
	}

	s.logger.Debug("sync batch applied",
		"owners_inserted", len(batch.OwnersToInsert),
		"owners_updated", len(batch.OwnersToUpdate),
		"items_inserted", len(batch.ItemsToInsert),
		"items_updated", len(batch.ItemsToUpdate),
	)
	return nil
}
