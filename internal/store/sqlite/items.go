package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/store"
)

// itemColumns must match the scan order in scanItem and the argument order in itemArgs.
const itemColumns = `id, library_id, shared_group_id, owner_id, work_type, title, year, season, format,
	front_image_path, back_image_path, ocr_text_front, ocr_text_back, catalog_id,
	notes, audio_info, video_info, languages, subtitles, created_at, updated_at`

const itemPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func scanItem(scanner rowScanner) (*domain.CollectionItem, error) {
	var (
		item      domain.CollectionItem
		groupID   sql.NullString
		year      sql.NullInt64
		season    sql.NullInt64
		catalogID sql.NullInt64
		workType  string
		format    string
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&item.ItemID,
		&item.LibraryID,
		&groupID,
		&item.OwnerID,
		&workType,
		&item.Title,
		&year,
		&season,
		&format,
		&item.FrontImagePath,
		&item.BackImagePath,
		&item.OCRTextFront,
		&item.OCRTextBack,
		&catalogID,
		&item.Notes,
		&item.AudioInfo,
		&item.VideoInfo,
		&item.Languages,
		&item.Subtitles,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.SharedGroupID = stringPtr(groupID)
	item.Year = intPtr(year)
	item.Season = intPtr(season)
	item.CatalogID = intPtr(catalogID)
	item.WorkType = domain.WorkType(workType)
	item.Format = domain.Format(format)

	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func itemArgs(item *domain.CollectionItem) []any {
	return []any{
		item.ItemID,
		item.LibraryID,
		nullableString(item.SharedGroupID),
		item.OwnerID,
		string(item.WorkType),
		item.Title,
		nullableInt(item.Year),
		nullableInt(item.Season),
		string(item.Format),
		item.FrontImagePath,
		item.BackImagePath,
		item.OCRTextFront,
		item.OCRTextBack,
		nullableInt(item.CatalogID),
		item.Notes,
		item.AudioInfo,
		item.VideoInfo,
		item.Languages,
		item.Subtitles,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	}
}

// CreateItem inserts a new collection item.
// Returns store.ErrAlreadyExists on duplicate ID.
func (s *Store) CreateItem(ctx context.Context, item *domain.CollectionItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (`+itemPlaceholders+`)`, itemArgs(item)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetItem retrieves an item by ID.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.CollectionItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return item, err
}

// UpdateItem replaces an existing item.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) UpdateItem(ctx context.Context, item *domain.CollectionItem) error {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, item.ItemID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return upsertItem(ctx, s.db, item)
}

// DeleteItem removes an item. Deleting a missing item is not an error.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	return err
}

// ListItemsByLibrary returns the items of one local library.
func (s *Store) ListItemsByLibrary(ctx context.Context, libraryID string) ([]*domain.CollectionItem, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE library_id = ? ORDER BY id`, libraryID)
}

// ListItemsBySharedGroup returns every local item tagged with a shared group.
func (s *Store) ListItemsBySharedGroup(ctx context.Context, groupID string) ([]*domain.CollectionItem, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE shared_group_id = ? ORDER BY id`, groupID)
}

// CountItemsByLibrary counts the items of one local library.
func (s *Store) CountItemsByLibrary(ctx context.Context, libraryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE library_id = ?`, libraryID).Scan(&n)
	return n, err
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*domain.CollectionItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanItem)
}

// upsertItem inserts or fully replaces an item.
func upsertItem(ctx context.Context, ex execer, item *domain.CollectionItem) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`) VALUES (`+itemPlaceholders+`)
		ON CONFLICT(id) DO UPDATE SET
			library_id = excluded.library_id,
			shared_group_id = excluded.shared_group_id,
			owner_id = excluded.owner_id,
			work_type = excluded.work_type,
			title = excluded.title,
			year = excluded.year,
			season = excluded.season,
			format = excluded.format,
			front_image_path = excluded.front_image_path,
			back_image_path = excluded.back_image_path,
			ocr_text_front = excluded.ocr_text_front,
			ocr_text_back = excluded.ocr_text_back,
			catalog_id = excluded.catalog_id,
			notes = excluded.notes,
			audio_info = excluded.audio_info,
			video_info = excluded.video_info,
			languages = excluded.languages,
			subtitles = excluded.subtitles,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		itemArgs(item)...)
	return err
}
