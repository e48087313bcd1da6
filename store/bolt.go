package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("duochat")
	boltDocKey = []byte("document")
)

// BoltStore keeps the document under a single key in a bbolt database.
// bbolt allows one writer at a time, so every Update transaction is a
// natural serialization boundary for the read-modify-write cycle.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init bucket: %v", ErrStorageUnavailable, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) View(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cbErr error
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc, err := decodeDoc(tx.Bucket(boltBucket).Get(boltDocKey))
		if err != nil {
			return err
		}
		cbErr = fn(doc)
		return cbErr
	})
	return wrapBoltErr(err, cbErr)
}

func (s *BoltStore) Update(ctx context.Context, fn func(doc *Document) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cbErr error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		doc, err := decodeDoc(b.Get(boltDocKey))
		if err != nil {
			return err
		}

		changed, err := fn(doc)
		if err != nil {
			cbErr = err
			return err
		}
		if !changed {
			return nil
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: marshal: %v", ErrStorageUnavailable, err)
		}
		return b.Put(boltDocKey, data)
	})
	return wrapBoltErr(err, cbErr)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// wrapBoltErr keeps callback errors intact and maps everything else,
// commit failures included, to the storage taxonomy.
func wrapBoltErr(err, cbErr error) error {
	if err == nil {
		return nil
	}
	if cbErr != nil {
		return cbErr
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrCorruptState) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func decodeDoc(data []byte) (*Document, error) {
	if data == nil {
		return &Document{Users: []*User{}, Messages: []*Message{}}, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse document key: %v", ErrCorruptState, err)
	}
	return &doc, nil
}
