package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// framesBucket holds <video_id>/<index>=<encoded image>.
var framesBucket = []byte("frames")

// ErrReadOnly is returned when writing to a store opened read-only.
var ErrReadOnly = errors.New("store is read-only")

// BoltOptions configures the ordered-map backend.
type BoltOptions struct {
	MmapSize int
	ReadOnly bool
	Timeout  time.Duration
}

// BoltStore is the ordered-map backend: a single bbolt file with keys kept
// in byte order. Every PutBatch is one transaction.
type BoltStore struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// OpenBolt creates a new or opens an existing bbolt file.
func OpenBolt(path string, opts BoltOptions) (*BoltStore, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:         timeout,
		InitialMmapSize: opts.MmapSize,
		ReadOnly:        opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	s := &BoltStore{db: db, path: path, readOnly: opts.ReadOnly}
	if !opts.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(framesBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize bolt %s: %w", path, err)
		}
	}
	return s, nil
}

// Put writes a single key in its own transaction.
func (s *BoltStore) Put(ctx context.Context, key string, value []byte) error {
	return s.PutBatch(ctx, []Entry{{Key: key, Value: value}})
}

// PutBatch writes all entries in one transaction. Either every entry is
// committed or none is.
func (s *BoltStore) PutBatch(ctx context.Context, entries []Entry) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(framesBucket)
		for _, e := range entries {
			if err := bucket.Put([]byte(e.Key), e.Value); err != nil {
				return fmt.Errorf("put %q: %w", e.Key, err)
			}
		}
		return nil
	})
}

// Get reads a key.
func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(framesBucket)
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has checks if a key exists.
func (s *BoltStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Walk visits every key in byte order.
func (s *BoltStore) Walk(ctx context.Context, fn WalkFunc) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(framesBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(string(k), bytes.Clone(v))
		})
	})
}

// Atomic is true: PutBatch is a single bbolt transaction.
func (s *BoltStore) Atomic() bool {
	return true
}

// URI returns the canonical URI of the database file.
func (s *BoltStore) URI() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}
	return "bolt://" + abs
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ FrameStore = (*BoltStore)(nil)
