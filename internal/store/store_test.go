package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashelf/mediashelf/internal/domain"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeItem(id, libraryID, groupID, ownerID, title string) *domain.CollectionItem {
	return &domain.CollectionItem{
		ItemID:        id,
		LibraryID:     libraryID,
		SharedGroupID: domain.GroupRef(groupID),
		OwnerID:       ownerID,
		WorkType:      domain.WorkTypeMovie,
		Title:         title,
		Format:        domain.FormatBluRay,
		Timestamps:    domain.Timestamps{CreatedAt: base, UpdatedAt: base},
	}
}

func makeLibrary(id, ownerID, groupID string, created time.Time) *domain.Library {
	return &domain.Library{
		LibraryID:     id,
		OwnerID:       ownerID,
		SharedGroupID: domain.GroupRef(groupID),
		Name:          "Lib " + id,
		Timestamps:    domain.Timestamps{CreatedAt: created, UpdatedAt: created},
	}
}

func TestOwners_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	owner := &domain.Owner{OwnerID: "own-1", DisplayName: "Ana", PinSecretHash: "hash"}
	require.NoError(t, s.CreateOwner(ctx, owner))
	assert.ErrorIs(t, s.CreateOwner(ctx, owner), store.ErrAlreadyExists)

	got, err := s.GetOwner(ctx, "own-1")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PinSecretHash)

	got.DisplayName = "Ana B."
	require.NoError(t, s.UpdateOwner(ctx, got))

	owners, err := s.ListOwners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "Ana B.", owners[0].DisplayName)

	_, err = s.GetOwner(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateOwner(ctx, &domain.Owner{OwnerID: "missing"}), store.ErrNotFound)
}

func TestLibraries_Indexes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateLibrary(ctx, makeLibrary("lib-b", "ana", "G", base.Add(time.Hour))))
	require.NoError(t, s.CreateLibrary(ctx, makeLibrary("lib-a", "ana", "", base)))
	require.NoError(t, s.CreateLibrary(ctx, makeLibrary("lib-c", "ben", "G", base.Add(2*time.Hour))))

	all, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "lib-a", all[0].LibraryID, "ordered by creation")

	byOwner, err := s.ListLibrariesByOwner(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	byGroup, err := s.ListLibrariesBySharedGroup(ctx, "G")
	require.NoError(t, err)
	require.Len(t, byGroup, 2)
	assert.Equal(t, "lib-b", byGroup[0].LibraryID)

	shared, err := s.ListSharedLibraries(ctx)
	require.NoError(t, err)
	assert.Len(t, shared, 2)

	// Sharing a private library moves it into the group index.
	lib, err := s.GetLibrary(ctx, "lib-a")
	require.NoError(t, err)
	lib.SharedGroupID = domain.GroupRef("H")
	require.NoError(t, s.UpdateLibrary(ctx, lib))

	byGroup, err = s.ListLibrariesBySharedGroup(ctx, "H")
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "lib-a", byGroup[0].LibraryID)
}

func TestItems_IndexesFollowUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateItem(ctx, makeItem("x1", "lib-1", "G", "ana", "Dune")))
	require.NoError(t, s.CreateItem(ctx, makeItem("x2", "lib-1", "G", "ben", "Dune")))
	require.NoError(t, s.CreateItem(ctx, makeItem("x3", "lib-2", "", "ana", "Heat")))

	n, err := s.CountItemsByLibrary(ctx, "lib-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inGroup, err := s.ListItemsBySharedGroup(ctx, "G")
	require.NoError(t, err)
	assert.Len(t, inGroup, 2)

	moved := makeItem("x2", "lib-2", "", "ben", "Dune")
	require.NoError(t, s.UpdateItem(ctx, moved))

	n, err = s.CountItemsByLibrary(ctx, "lib-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inGroup, err = s.ListItemsBySharedGroup(ctx, "G")
	require.NoError(t, err)
	require.Len(t, inGroup, 1)
	assert.Equal(t, "x1", inGroup[0].ItemID)

	require.NoError(t, s.DeleteItem(ctx, "x1"))
	require.NoError(t, s.DeleteItem(ctx, "x1"), "delete is idempotent")

	inGroup, err = s.ListItemsBySharedGroup(ctx, "G")
	require.NoError(t, err)
	assert.Empty(t, inGroup)
}

func TestItems_IndexValueWithColon(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateItem(ctx, makeItem("x1", "lib-1", "a", "ana", "One")))
	require.NoError(t, s.CreateItem(ctx, makeItem("x2", "lib-1", "a:b", "ana", "Two")))

	items, err := s.ListItemsBySharedGroup(ctx, "a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x1", items[0].ItemID)
}

func TestApplySync_WritesEverything(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateItem(ctx, makeItem("x1", "lib-1", "G", "ana", "Dune")))

	updated := *makeItem("x1", "lib-1", "G", "ana", "Dune")
	updated.Notes = "widescreen"
	updated.UpdatedAt = base.Add(24 * time.Hour)

	batch := store.SyncBatch{
		OwnersToInsert: []domain.Owner{{OwnerID: "ben", DisplayName: "Ben"}},
		ItemsToInsert:  []domain.CollectionItem{*makeItem("y1", "lib-1", "G", "ben", "Dune: Part Two")},
		ItemsToUpdate:  []domain.CollectionItem{updated},
	}
	require.NoError(t, s.ApplySync(ctx, batch))

	got, err := s.GetItem(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, "widescreen", got.Notes)
	assert.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))

	_, err = s.GetItem(ctx, "y1")
	require.NoError(t, err)
	_, err = s.GetOwner(ctx, "ben")
	require.NoError(t, err)

	// Reapplying is harmless.
	require.NoError(t, s.ApplySync(ctx, batch))
	n, err := s.CountItemsByLibrary(ctx, "lib-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestApplySync_IsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := store.SyncBatch{
		OwnersToInsert: []domain.Owner{{OwnerID: "ben", DisplayName: "Ben"}},
		ItemsToInsert: []domain.CollectionItem{
			*makeItem("y1", "lib-1", "G", "ben", "Arrival"),
			*makeItem("", "lib-1", "G", "ben", "Broken"),
		},
	}
	err := s.ApplySync(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.GetItem(ctx, "y1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetOwner(ctx, "ben")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplySync_EmptyBatch(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.ApplySync(context.Background(), store.SyncBatch{}))
}

func TestStore_CancelledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetItem(ctx, "x1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.ApplySync(ctx, store.SyncBatch{}), context.Canceled)
}

func TestNewInMemory(t *testing.T) {
	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateOwner(context.Background(), &domain.Owner{OwnerID: "own-1"}))
}

func TestCoded(t *testing.T) {
	tests := []struct {
		err  error
		want domainerrors.Code
	}{
		{fmt.Errorf("get owner: %w", store.ErrNotFound), domainerrors.CodeNotFound},
		{store.ErrAlreadyExists, domainerrors.CodeValidation},
		{fmt.Errorf("item without id: %w", store.ErrInvalidInput), domainerrors.CodeValidation},
	}
	for _, tt := range tests {
		coded := store.Coded(tt.err)
		require.NotNil(t, coded, tt.err)
		assert.Equal(t, tt.want, coded.Code)
		assert.ErrorIs(t, coded, tt.err)
	}

	assert.Nil(t, store.Coded(errors.New("disk full")))
	assert.Nil(t, store.Coded(nil))
}
