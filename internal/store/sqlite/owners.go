package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/store"
)

// ownerColumns must match the scan order in scanOwner.
const ownerColumns = `id, display_name, pin_secret_hash, created_at, updated_at`

func scanOwner(scanner rowScanner) (*domain.Owner, error) {
	var (
		o         domain.Owner
		pin       sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&o.OwnerID, &o.DisplayName, &pin, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.PinSecretHash = pin.String

	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOwner inserts a new owner.
// Returns store.ErrAlreadyExists on duplicate ID.
func (s *Store) CreateOwner(ctx context.Context, owner *domain.Owner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (`+ownerColumns+`) VALUES (?, ?, ?, ?, ?)`,
		owner.OwnerID,
		owner.DisplayName,
		nullString(owner.PinSecretHash),
		formatTime(owner.CreatedAt),
		formatTime(owner.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetOwner retrieves an owner by ID.
// Returns store.ErrNotFound if the owner does not exist.
func (s *Store) GetOwner(ctx context.Context, id string) (*domain.Owner, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = ?`, id)

	owner, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return owner, err
}

// UpdateOwner performs a full row update on an existing owner.
func (s *Store) UpdateOwner(ctx context.Context, owner *domain.Owner) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE owners SET display_name = ?, pin_secret_hash = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		owner.DisplayName,
		nullString(owner.PinSecretHash),
		formatTime(owner.CreatedAt),
		formatTime(owner.UpdatedAt),
		owner.OwnerID,
	)
	return requireRow(result, err)
}

// ListOwners returns all owners ordered by creation time.
func (s *Store) ListOwners(ctx context.Context) ([]*domain.Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanOwner)
}

// upsertOwner writes an owner inside a sync transaction.
func upsertOwner(ctx context.Context, ex execer, owner *domain.Owner) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO owners (`+ownerColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			pin_secret_hash = excluded.pin_secret_hash,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		owner.OwnerID,
		owner.DisplayName,
		nullString(owner.PinSecretHash),
		formatTime(owner.CreatedAt),
		formatTime(owner.UpdatedAt),
	)
	return err
}

// requireRow maps an update that touched nothing to store.ErrNotFound.
func requireRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
