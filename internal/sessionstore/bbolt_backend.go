package sessionstore

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var sessionBucket = []byte("oastengine-sessions")

type bboltBackend struct {
	db *bbolt.DB
}

func newBboltBackend(path string) (*bboltBackend, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt session store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create session bucket: %w", err)
	}

	return &bboltBackend{db: db}, nil
}

func (b *bboltBackend) put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), value)
	})
}

func (b *bboltBackend) get(_ context.Context, key string) ([]byte, error) {
	var value []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

func (b *bboltBackend) delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
}

func (b *bboltBackend) forEachPrefix(_ context.Context, prefix string, fn func(key string, value []byte) error) error {
	prefixBytes := []byte(prefix)

	return b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(sessionBucket).Cursor()
		for k, v := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, v = c.Next() {
			value := append([]byte(nil), v...)
			if err := fn(string(k), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *bboltBackend) close() error {
	return b.db.Close()
}
