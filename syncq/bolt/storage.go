// Package bolt provides BoltDB-backed sync queue storage.
//
// Records live in a single bucket keyed by a big-endian bucket sequence,
// so byte order is enqueue order and every append/remove is one atomic
// transaction.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sevensteps/offline/syncq"
)

const queueBucket = "queue"

// Storage implements syncq.Storage on top of a BoltDB file.
type Storage struct {
	db *bbolt.DB
}

var _ syncq.Storage = (*Storage)(nil)

// Open opens (or creates) queue storage at the provided path.
func Open(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("queue path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(queueBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure queue bucket: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append adds a record at the queue tail.
func (s *Storage) Append(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(queueBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Walk visits records in enqueue order. Returning syncq.ErrStopWalk from
// fn stops the walk without failing it.
func (s *Storage) Walk(ctx context.Context, fn func(seq uint64, data []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(queueBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// Cursor memory is only valid inside the transaction.
			data := append([]byte(nil), v...)
			if err := fn(btoi(k), data); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, syncq.ErrStopWalk) {
		return nil
	}
	return err
}

// Update replaces the record at seq.
func (s *Storage) Update(ctx context.Context, seq uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(queueBucket)).Put(itob(seq), data)
	})
	if err != nil {
		return fmt.Errorf("update record %d: %w", seq, err)
	}
	return nil
}

// Remove deletes the record at seq.
func (s *Storage) Remove(ctx context.Context, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(queueBucket)).Delete(itob(seq))
	})
	if err != nil {
		return fmt.Errorf("remove record %d: %w", seq, err)
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
