package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/dgraph-io/badger/v4"
)

// Entity provides generic CRUD operations for any record type, with
// multi-valued secondary indexes.
//
// Key layout:
//
//	prefix + id                            -> JSON record
//	prefix + "idx:" + name + ":" + value + ":" + id -> id
type Entity[T any] struct {
	store   *Store
	prefix  string
	idOf    func(*T) string
	indexes []Index[T]
}

// Index defines a secondary index on an entity. keyGen returns every value
// the record is indexed under; an empty slice leaves it out of the index.
type Index[T any] struct {
	name   string
	keyGen func(*T) []string
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](s *Store, prefix string, idOf func(*T) string) *Entity[T] {
	return &Entity[T]{
		store:  s,
		prefix: prefix,
		idOf:   idOf,
	}
}

// WithIndex adds a secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{
		name:   name,
		keyGen: keyGen,
	})
	return e
}

// Create stores a new record.
// Returns ErrAlreadyExists if a record with this ID already exists.
func (e *Entity[T]) Create(ctx context.Context, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		_, found, err := e.getTxn(txn, e.idOf(entity))
		if err != nil {
			return err
		}
		if found {
			return ErrAlreadyExists
		}
		return e.putTxn(txn, entity)
	})
}

// Get retrieves a record by ID.
// Returns ErrNotFound if the record does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		entity, found, err := e.getTxn(txn, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		out = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces an existing record and moves its index entries.
// Returns ErrNotFound if the record does not exist.
func (e *Entity[T]) Update(ctx context.Context, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		_, found, err := e.getTxn(txn, e.idOf(entity))
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return e.putTxn(txn, entity)
	})
}

// Delete deletes a record by ID.
// This operation is idempotent - it does not return an error if the record does not exist.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		old, found, err := e.getTxn(txn, id)
		if err != nil || !found {
			return err
		}

		for _, idx := range e.indexes {
			for _, value := range idx.keyGen(old) {
				if err := txn.Delete(indexKey(e.prefix, idx.name, value, id)); err != nil {
					return fmt.Errorf("failed to delete index key: %w", err)
				}
			}
		}

		if err := txn.Delete([]byte(e.prefix + id)); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		return nil
	})
}

// List returns an iterator over all records.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.store.db.View(func(txn *badger.Txn) error {
			prefix := []byte(e.prefix)
			idxPrefix := []byte(e.prefix + "idx:")

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}

				// Skip index keys
				if bytes.HasPrefix(it.Item().Key(), idxPrefix) {
					continue
				}

				var entity T
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				})
				if err != nil {
					yield(nil, fmt.Errorf("failed to unmarshal entity: %w", err))
					return err
				}

				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

// Collect drains List into a slice.
func (e *Entity[T]) Collect(ctx context.Context) ([]*T, error) {
	var out []*T
	for entity, err := range e.List(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// ListByIndex returns every record indexed under value, in id order.
func (e *Entity[T]) ListByIndex(ctx context.Context, indexName, value string) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := e.index(indexName)
	if err != nil {
		return nil, err
	}

	var out []*T
	err = e.store.db.View(func(txn *badger.Txn) error {
		ids, err := e.scanIndex(txn, indexName, value)
		if err != nil {
			return err
		}
		for _, id := range ids {
			entity, found, err := e.getTxn(txn, id)
			if err != nil {
				return err
			}
			// A value containing ':' can share a scan prefix with a longer
			// value; the record's own keys settle it.
			if !found || !slices.Contains(idx.keyGen(entity), value) {
				continue
			}
			out = append(out, entity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountByIndex returns how many records are indexed under value without
// decoding them.
func (e *Entity[T]) CountByIndex(ctx context.Context, indexName, value string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := e.index(indexName); err != nil {
		return 0, err
	}

	var n int
	err := e.store.db.View(func(txn *badger.Txn) error {
		ids, err := e.scanIndex(txn, indexName, value)
		n = len(ids)
		return err
	})
	return n, err
}

func (e *Entity[T]) index(name string) (*Index[T], error) {
	for i := range e.indexes {
		if e.indexes[i].name == name {
			return &e.indexes[i], nil
		}
	}
	return nil, fmt.Errorf("unknown index %q on %s: %w", name, e.prefix, ErrInvalidInput)
}

func (e *Entity[T]) scanIndex(txn *badger.Txn, indexName, value string) ([]string, error) {
	prefix := buildIndexPrefix(e.prefix, indexName, value)
	defer releaseKey(prefix)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// getTxn loads a record inside an existing transaction.
func (e *Entity[T]) getTxn(txn *badger.Txn, id string) (*T, bool, error) {
	key := buildKey(e.prefix, id)
	defer releaseKey(key)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, true, nil
}

// putTxn upserts a record inside an existing transaction, replacing the
// index entries of any previous version.
func (e *Entity[T]) putTxn(txn *badger.Txn, entity *T) error {
	id := e.idOf(entity)
	if id == "" {
		return fmt.Errorf("%s record without id: %w", e.prefix, ErrInvalidInput)
	}

	old, found, err := e.getTxn(txn, id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	for _, idx := range e.indexes {
		newValues := idx.keyGen(entity)
		if found {
			for _, value := range idx.keyGen(old) {
				if slices.Contains(newValues, value) {
					continue
				}
				if err := txn.Delete(indexKey(e.prefix, idx.name, value, id)); err != nil {
					return fmt.Errorf("failed to delete old index key: %w", err)
				}
			}
		}
		for _, value := range newValues {
			if err := txn.Set(indexKey(e.prefix, idx.name, value, id), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}

	// Badger keeps a reference to the key until commit, so it cannot come from the pool.
	if err := txn.Set([]byte(e.prefix+id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}
