package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	recordPrefix = "audit:rec:"
	indexPrefix  = "audit:id:"
)

var (
	// ErrNotFound is returned when no record has the requested id
	ErrNotFound = errors.New("audit: record not found")
	// ErrInvalidFilter is returned for filter expressions that do not compile
	ErrInvalidFilter = errors.New("audit: invalid filter")
)

// Store keeps records in BadgerDB, ordered by drain time
type Store struct {
	db *badger.DB
}

// New wraps an open BadgerDB
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a store at path
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open store at %s: %w", path, err)
	}
	return New(db), nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// recordKey sorts lexically in drain order
func recordKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordPrefix, rec.DrainedAt.UnixNano(), rec.ID))
}

// Write implements Sink
func (s *Store) Write(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("audit: record has no id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := recordKey(rec)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+rec.ID), key)
	})
}

// Get returns the record with the given id
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(indexPrefix + id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}

		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	return rec, err
}

// List returns the records matching filter in drain order. A nil filter lists everything.
func (s *Store) List(ctx context.Context, filter *Filter) ([]Record, error) {
	var records []Record
	limit := filter.limit()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}

			ok, err := filter.Match(rec)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})

	return records, err
}

// Count returns the number of stored records
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}
