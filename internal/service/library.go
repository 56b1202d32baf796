package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mediashelf/mediashelf/internal/auth"
	"github.com/mediashelf/mediashelf/internal/domain"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/id"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/store"
	"github.com/mediashelf/mediashelf/internal/validation"
)

// LibraryService manages owners, libraries and the items in them.
type LibraryService struct {
	store     store.RecordStore
	validator *validation.Validator
	logger    *slog.Logger
}

// NewLibraryService creates a new library service.
func NewLibraryService(store store.RecordStore, logger *slog.Logger) *LibraryService {
	return &LibraryService{
		store:     store,
		validator: validation.New(),
		logger:    logger,
	}
}

// CreateOwner adds a local owner profile. An empty pin leaves the profile
// unprotected.
func (s *LibraryService) CreateOwner(ctx context.Context, displayName, pin string) (*domain.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, domainerrors.Validation("display name is required")
	}

	ownerID, err := id.Generate(id.PrefixOwner)
	if err != nil {
		return nil, fmt.Errorf("generate owner ID: %w", err)
	}
	owner := &domain.Owner{OwnerID: ownerID, DisplayName: displayName}

	if pin != "" {
		if err := auth.ValidatePIN(pin); err != nil {
			return nil, domainerrors.Validation(err.Error())
		}
		hash, err := auth.HashPIN(pin)
		if err != nil {
			return nil, fmt.Errorf("hash pin: %w", err)
		}
		owner.PinSecretHash = hash
	}
	owner.InitTimestamps()

	if err := s.store.CreateOwner(ctx, owner); err != nil {
		return nil, storageError(err, "create owner")
	}

	s.logger.Info("owner created", "owner_id", owner.OwnerID, "has_pin", owner.HasPIN())
	return owner, nil
}

// ListOwners returns every local owner.
func (s *LibraryService) ListOwners(ctx context.Context) ([]*domain.Owner, error) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, storageError(err, "list owners")
	}
	return owners, nil
}

// CreateLibrary adds a library for ownerID. A shared library gets a fresh
// shared group id that peers join with Share.
func (s *LibraryService) CreateLibrary(ctx context.Context, ownerID, name, description, icon string, shared bool) (*domain.Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainerrors.Validation("library name is required")
	}
	if _, err := s.store.GetOwner(ctx, ownerID); err != nil {
		return nil, notFoundOr(err, "owner %s not found", ownerID)
	}

	libraryID, err := id.Generate(id.PrefixLibrary)
	if err != nil {
		return nil, fmt.Errorf("generate library ID: %w", err)
	}
	lib := &domain.Library{
		LibraryID:   libraryID,
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		Icon:        icon,
	}
	if shared {
		lib.SharedGroupID = domain.GroupRef(id.NewSharedGroupID())
	}
	lib.InitTimestamps()

	if err := s.store.CreateLibrary(ctx, lib); err != nil {
		return nil, storageError(err, "create library")
	}

	s.logger.Info("library created",
		"library_id", lib.LibraryID,
		"owner_id", ownerID,
		"shared_group_id", lib.GroupID(),
	)
	return lib, nil
}

// ListLibraries returns the libraries of ownerID, or every library when
// ownerID is empty.
func (s *LibraryService) ListLibraries(ctx context.Context, ownerID string) ([]*domain.Library, error) {
	var (
		libs []*domain.Library
		err  error
	)
	if ownerID == "" {
		libs, err = s.store.ListLibraries(ctx)
	} else {
		libs, err = s.store.ListLibrariesByOwner(ctx, ownerID)
	}
	if err != nil {
		return nil, storageError(err, "list libraries")
	}
	return libs, nil
}

// Share puts a library into a shared group. An empty groupID starts a new
// group; pass a peer's group id to join it. Items already in the library
// follow it into the group.
func (s *LibraryService) Share(ctx context.Context, libraryID, groupID string) (*domain.Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lib, err := s.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, notFoundOr(err, "library %s not found", libraryID)
	}

	if groupID == "" {
		if lib.IsShared() {
			return lib, nil
		}
		groupID = id.NewSharedGroupID()
	}
	if !id.IsSharedGroupID(groupID) {
		return nil, domainerrors.Validationf("invalid shared group id %q", groupID)
	}
	if lib.IsShared() && lib.GroupID() != groupID {
		return nil, domainerrors.Validationf("library %q already belongs to shared group %s", lib.Name, lib.GroupID())
	}

	lib.SharedGroupID = domain.GroupRef(groupID)
	lib.Touch()
	if err := s.store.UpdateLibrary(ctx, lib); err != nil {
		return nil, storageError(err, "update library")
	}

	items, err := s.store.ListItemsByLibrary(ctx, libraryID)
	if err != nil {
		return nil, storageError(err, "list library items")
	}
	var batch store.SyncBatch
	for _, item := range items {
		if item.GroupID() == groupID {
			continue
		}
		item.SharedGroupID = domain.GroupRef(groupID)
		item.Touch()
		batch.ItemsToUpdate = append(batch.ItemsToUpdate, *item)
	}
	if !batch.Empty() {
		if err := s.store.ApplySync(ctx, batch); err != nil {
			return nil, storageError(err, "move items into group")
		}
	}

	s.logger.Info("library shared",
		"library_id", libraryID,
		"shared_group_id", groupID,
		"items", batch.Size(),
	)
	return lib, nil
}

// SharedLibraries summarises the shared libraries of ownerID with item
// counts. An empty ownerID lists every shared library on the device.
func (s *LibraryService) SharedLibraries(ctx context.Context, ownerID string) ([]domain.SharedLibrary, error) {
	libs, err := s.store.ListSharedLibraries(ctx)
	if err != nil {
		return nil, storageError(err, "list shared libraries")
	}

	out := make([]domain.SharedLibrary, 0, len(libs))
	for _, lib := range libs {
		if ownerID != "" && lib.OwnerID != ownerID {
			continue
		}
		count, err := s.store.CountItemsByLibrary(ctx, lib.LibraryID)
		if err != nil {
			return nil, storageError(err, "count library items")
		}
		out = append(out, domain.SharedLibrary{
			LibraryID:     lib.LibraryID,
			SharedGroupID: lib.GroupID(),
			Name:          lib.Name,
			ItemCount:     count,
		})
	}
	return out, nil
}

// PeerLibraries is SharedLibraries in the shape sent with LIST_LIBRARIES.
func (s *LibraryService) PeerLibraries(ctx context.Context, ownerID string) ([]protocol.LibraryInfo, error) {
	shared, err := s.SharedLibraries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	infos := make([]protocol.LibraryInfo, 0, len(shared))
	for _, lib := range shared {
		infos = append(infos, protocol.LibraryInfo{
			SharedGroupID: lib.SharedGroupID,
			Name:          lib.Name,
			ItemCount:     lib.ItemCount,
		})
	}
	return infos, nil
}

// AddItem stores a new copy in a library. The item inherits the library's
// shared group.
func (s *LibraryService) AddItem(ctx context.Context, item *domain.CollectionItem) (*domain.CollectionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lib, err := s.store.GetLibrary(ctx, item.LibraryID)
	if err != nil {
		return nil, notFoundOr(err, "library %s not found", item.LibraryID)
	}

	if item.ItemID == "" {
		itemID, err := id.Generate(id.PrefixItem)
		if err != nil {
			return nil, fmt.Errorf("generate item ID: %w", err)
		}
		item.ItemID = itemID
	}
	if item.OwnerID == "" {
		item.OwnerID = lib.OwnerID
	}
	if item.WorkType == "" {
		item.WorkType = domain.WorkTypeMovie
	}
	item.Title = strings.TrimSpace(item.Title)
	item.SharedGroupID = domain.GroupRef(lib.GroupID())
	item.InitTimestamps()

	if err := s.validator.Validate(item); err != nil {
		return nil, err
	}
	if !item.Format.IsValid() {
		return nil, domainerrors.Validationf("unknown format %q", item.Format)
	}

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, storageError(err, "create item")
	}

	s.logger.Info("item added",
		"item_id", item.ItemID,
		"library_id", lib.LibraryID,
		"title", item.Title,
	)
	return item, nil
}

// Works returns the unified works view of a shared group: every copy of a
// work grouped together with its owner's name.
func (s *LibraryService) Works(ctx context.Context, groupID string) ([]domain.UnifiedWork, error) {
	if groupID == "" {
		return nil, domainerrors.Validation("shared group id is required")
	}

	items, err := s.store.ListItemsBySharedGroup(ctx, groupID)
	if err != nil {
		return nil, storageError(err, "list items by group")
	}
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, storageError(err, "list owners")
	}

	flatItems := make([]domain.CollectionItem, len(items))
	for i, item := range items {
		flatItems[i] = *item
	}
	flatOwners := make([]domain.Owner, len(owners))
	for i, owner := range owners {
		flatOwners[i] = *owner
	}
	return domain.GroupWorks(groupID, flatItems, flatOwners), nil
}
