// Package store defines the Record Store for owners, libraries and collection
// items, and implements it on Badger.
package store

import (
	"context"

	"github.com/mediashelf/mediashelf/internal/domain"
)

// RecordStore defines the persistence operations the sync core and the CLI use.
// Implemented by *Store (Badger) and *sqlite.Store.
type RecordStore interface {
	Close() error

	// Owners
	CreateOwner(ctx context.Context, owner *domain.Owner) error
	GetOwner(ctx context.Context, id string) (*domain.Owner, error)
	UpdateOwner(ctx context.Context, owner *domain.Owner) error
	ListOwners(ctx context.Context) ([]*domain.Owner, error)

	// Libraries
	CreateLibrary(ctx context.Context, lib *domain.Library) error
	GetLibrary(ctx context.Context, id string) (*domain.Library, error)
	UpdateLibrary(ctx context.Context, lib *domain.Library) error
	ListLibraries(ctx context.Context) ([]*domain.Library, error)
	ListLibrariesByOwner(ctx context.Context, ownerID string) ([]*domain.Library, error)
	ListLibrariesBySharedGroup(ctx context.Context, groupID string) ([]*domain.Library, error)
	ListSharedLibraries(ctx context.Context) ([]*domain.Library, error)

	// Collection items
	CreateItem(ctx context.Context, item *domain.CollectionItem) error
	GetItem(ctx context.Context, id string) (*domain.CollectionItem, error)
	UpdateItem(ctx context.Context, item *domain.CollectionItem) error
	DeleteItem(ctx context.Context, id string) error
	ListItemsByLibrary(ctx context.Context, libraryID string) ([]*domain.CollectionItem, error)
	ListItemsBySharedGroup(ctx context.Context, groupID string) ([]*domain.CollectionItem, error)
	CountItemsByLibrary(ctx context.Context, libraryID string) (int, error)

	// ApplySync writes a reconciled batch atomically: either every record in
	// the batch is stored or none is.
	ApplySync(ctx context.Context, batch SyncBatch) error
}

// SyncBatch is the set of local writes produced by reconciling a peer's payload.
// Inserts and updates are both written as upserts, so reapplying a batch is harmless.
type SyncBatch struct {
	OwnersToInsert []domain.Owner
	OwnersToUpdate []domain.Owner
	ItemsToInsert  []domain.CollectionItem
	ItemsToUpdate  []domain.CollectionItem
}

// Empty reports whether the batch has nothing to write.
func (b SyncBatch) Empty() bool {
	return len(b.OwnersToInsert)+len(b.OwnersToUpdate)+len(b.ItemsToInsert)+len(b.ItemsToUpdate) == 0
}

// Size returns the number of records in the batch.
func (b SyncBatch) Size() int {
	return len(b.OwnersToInsert) + len(b.OwnersToUpdate) + len(b.ItemsToInsert) + len(b.ItemsToUpdate)
}
