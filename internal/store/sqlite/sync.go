package sqlite

import (
	"context"
	"fmt"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/store"
)

// ApplySync writes the whole batch inside one transaction. Any failure rolls
// every write back.
func (s *Store) ApplySync(ctx context.Context, batch store.SyncBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, owners := range [][]domain.Owner{batch.OwnersToInsert, batch.OwnersToUpdate} {
		for i := range owners {
			if owners[i].OwnerID == "" {
				return fmt.Errorf("apply sync batch: owner without id: %w", store.ErrInvalidInput)
			}
			if err := upsertOwner(ctx, tx, &owners[i]); err != nil {
				return fmt.Errorf("apply sync batch: owner %s: %w", owners[i].OwnerID, err)
			}
		}
	}
	for _, items := range [][]domain.CollectionItem{batch.ItemsToInsert, batch.ItemsToUpdate} {
		for i := range items {
			if items[i].ItemID == "" {
				return fmt.Errorf("apply sync batch: item without id: %w", store.ErrInvalidInput)
			}
			if err := upsertItem(ctx, tx, &items[i]); err != nil {
				return fmt.Errorf("apply sync batch: item %s: %w", items[i].ItemID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync batch: %w", err)
	}

	s.logger.Debug("sync batch applied", "records", batch.Size())
	return nil
}
