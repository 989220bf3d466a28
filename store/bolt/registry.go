// Package bolt provides a BoltDB-backed store registry.
//
// Each store is a bucket in a single database file; store names map 1:1 to
// bucket names, so generational eviction is a bucket delete.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"go.etcd.io/bbolt"

	"github.com/sevensteps/offline/store"
)

// Registry implements store.Registry on top of a BoltDB file.
type Registry struct {
	db *bbolt.DB
}

// Open opens (or creates) a BoltDB-backed registry at the provided path.
func Open(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Open returns the named store, creating its bucket if necessary.
func (r *Registry) Open(ctx context.Context, name string) (store.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return &boltStore{db: r.db, bucket: []byte(name)}, nil
}

// Names enumerates all store names.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate stores: %w", err)
	}
	return names, nil
}

// Delete removes a store. Deleting a missing store is not an error.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete store %q: %w", name, err)
	}
	return nil
}

type boltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// Get returns the entry for key, or store.ErrNotFound. If the store's
// generation was deleted after this handle was opened, Get also reports
// store.ErrNotFound.
func (s *boltStore) Get(ctx context.Context, key digest.Digest) (*store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return store.ErrStoreNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		// Bucket memory is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrStoreNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return store.DecodeEntry(data)
}

// Put stores the entry under key. Last writer wins.
func (s *boltStore) Put(ctx context.Context, key digest.Digest, entry *store.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := store.EncodeEntry(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return store.ErrStoreNotFound
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}
