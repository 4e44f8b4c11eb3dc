// internal/storage/badger.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"form-relay/internal/model"
)

// BadgerStore is an embedded store for single-host deployments without a
// database server.
type BadgerStore struct {
	db         *badger.DB
	collection string
	now        func() time.Time
}

func NewBadgerStore(path, collection string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db, collection: collection, now: time.Now}, nil
}

// InsertMessage stores the record under "{collection}:{unix nanos padded}:{uuid}"
// so a prefix scan returns documents in insertion order and two inserts in
// the same nanosecond cannot collide.
func (s *BadgerStore) InsertMessage(_ context.Context, record *model.Record) error {
	key := fmt.Sprintf("%s:%019d:%s", s.collection, s.now().UnixNano(), uuid.New())
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) ListMessages() ([]model.Record, error) {
	var records []model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(s.collection + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var r model.Record
				if err := json.Unmarshal(value, &r); err != nil {
					return err
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BadgerStore) Close(context.Context) error {
	return s.db.Close()
}
