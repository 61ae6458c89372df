package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownBackend is returned for a db_type that names no backend.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("key not found")
)

// Backend types.
const (
	OrderedMap   = "ordered-map"
	Hierarchical = "hierarchical"
)

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value []byte
}

// WalkFunc is called for every stored entry. The value may be retained.
type WalkFunc func(key string, value []byte) error

// FrameStore abstracts the key-value backends frames are written to.
type FrameStore interface {
	// Put writes a single key.
	Put(ctx context.Context, key string, value []byte) error

	// PutBatch writes all entries. Atomic reports whether the batch is
	// all-or-nothing; otherwise a failure may leave a prefix written.
	PutBatch(ctx context.Context, entries []Entry) error

	// Get reads a key, returning ErrNotFound when it is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Has checks if a key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Walk visits every entry. The ordered-map visits keys in byte order;
	// the hierarchical store visits top-level names, then nested keys.
	Walk(ctx context.Context, fn WalkFunc) error

	// Atomic reports whether PutBatch is transactional.
	Atomic() bool

	// URI returns the canonical location of the store.
	URI() string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Type string // "ordered-map" | "hierarchical" (aliases: bolt, lmdb, blob, hdf5)
	Path string // file path for ordered-map, directory or bucket URL for hierarchical

	// Ordered-map only
	MmapSize int           // initial mmap size in bytes
	Timeout  time.Duration // file lock wait

	// S3-compatible hierarchical buckets (also B2, R2, MinIO)
	S3Endpoint string
	S3Region   string

	ReadOnly bool
}

// NormalizeType maps a db_type and its aliases onto a backend type.
func NormalizeType(t string) (string, error) {
	switch strings.ToLower(t) {
	case OrderedMap, "orderedmap", "bolt", "bbolt", "lmdb":
		return OrderedMap, nil
	case Hierarchical, "blob", "hdf5":
		return Hierarchical, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, t)
	}
}

// Open creates a storage backend based on configuration.
func Open(ctx context.Context, cfg StorageConfig) (FrameStore, error) {
	backend, err := NormalizeType(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for %s backend", backend)
	}

	switch backend {
	case OrderedMap:
		return OpenBolt(cfg.Path, BoltOptions{
			MmapSize: cfg.MmapSize,
			ReadOnly: cfg.ReadOnly,
			Timeout:  cfg.Timeout,
		})
	default:
		location := cfg.Path
		if name, ok := strings.CutPrefix(location, "s3://"); ok && !strings.Contains(name, "?") {
			location = S3URL(name, cfg.S3Endpoint, cfg.S3Region)
		}
		return OpenBlob(ctx, location, cfg.ReadOnly)
	}
}

// Count returns the number of entries in a store.
func Count(ctx context.Context, s FrameStore) (int, error) {
	n := 0
	err := s.Walk(ctx, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}
