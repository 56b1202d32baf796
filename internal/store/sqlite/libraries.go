package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/store"
)

// libraryColumns is the ordered list of columns selected in library queries.
// Must match the scan order in scanLibrary.
const libraryColumns = `id, owner_id, shared_group_id, name, description, icon, created_at, updated_at`

func scanLibrary(scanner rowScanner) (*domain.Library, error) {
	var (
		lib       domain.Library
		groupID   sql.NullString
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&lib.LibraryID,
		&lib.OwnerID,
		&groupID,
		&lib.Name,
		&lib.Description,
		&lib.Icon,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	lib.SharedGroupID = stringPtr(groupID)

	if lib.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lib.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &lib, nil
}

// CreateLibrary inserts a new library.
// Returns store.ErrAlreadyExists on duplicate ID.
func (s *Store) CreateLibrary(ctx context.Context, lib *domain.Library) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (`+libraryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lib.LibraryID,
		lib.OwnerID,
		nullableString(lib.SharedGroupID),
		lib.Name,
		lib.Description,
		lib.Icon,
		formatTime(lib.CreatedAt),
		formatTime(lib.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetLibrary retrieves a library by ID.
// Returns store.ErrNotFound if the library does not exist.
func (s *Store) GetLibrary(ctx context.Context, id string) (*domain.Library, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)

	lib, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return lib, err
}

// UpdateLibrary performs a full row update on an existing library.
// Returns store.ErrNotFound if the library does not exist.
func (s *Store) UpdateLibrary(ctx context.Context, lib *domain.Library) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE libraries SET
			owner_id = ?,
			shared_group_id = ?,
			name = ?,
			description = ?,
			icon = ?,
			created_at = ?,
			updated_at = ?
		WHERE id = ?`,
		lib.OwnerID,
		nullableString(lib.SharedGroupID),
		lib.Name,
		lib.Description,
		lib.Icon,
		formatTime(lib.CreatedAt),
		formatTime(lib.UpdatedAt),
		lib.LibraryID,
	)
	return requireRow(result, err)
}

// ListLibraries returns all libraries ordered by creation time.
func (s *Store) ListLibraries(ctx context.Context) ([]*domain.Library, error) {
	return s.queryLibraries(ctx, `SELECT `+libraryColumns+` FROM libraries ORDER BY created_at, id`)
}

// ListLibrariesByOwner returns the libraries of one owner.
func (s *Store) ListLibrariesByOwner(ctx context.Context, ownerID string) ([]*domain.Library, error) {
	return s.queryLibraries(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

// ListLibrariesBySharedGroup returns the local libraries joined to a shared group.
func (s *Store) ListLibrariesBySharedGroup(ctx context.Context, groupID string) ([]*domain.Library, error) {
	return s.queryLibraries(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE shared_group_id = ? ORDER BY created_at, id`, groupID)
}

// ListSharedLibraries returns every library that has a shared group.
func (s *Store) ListSharedLibraries(ctx context.Context) ([]*domain.Library, error) {
	return s.queryLibraries(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE shared_group_id IS NOT NULL AND shared_group_id != '' ORDER BY created_at, id`)
}

func (s *Store) queryLibraries(ctx context.Context, query string, args ...any) ([]*domain.Library, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLibrary)
}
