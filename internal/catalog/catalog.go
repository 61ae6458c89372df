// Package catalog records every written frame in a parquet index.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// FrameRow is one written frame.
type FrameRow struct {
	Split      string    `parquet:"split,dict"`
	VideoID    string    `parquet:"video_id,dict"`
	FrameIndex int32     `parquet:"frame_index"`
	Key        string    `parquet:"key"`
	ByteSize   int64     `parquet:"byte_size"`
	SHA256     string    `parquet:"sha256"`
	WrittenAt  time.Time `parquet:"written_at,timestamp(millisecond)"`
}

// SchemaVersion is bumped on breaking changes to FrameRow. It is stored in
// the file's key-value metadata under schemaVersionKey.
const SchemaVersion = "1.0.0"

const schemaVersionKey = "vid2frame.schema_version"

// ErrSchemaVersion is returned when reading a catalog written with another
// schema version.
var ErrSchemaVersion = errors.New("unsupported catalog schema version")

// Row builds the catalog row for a frame.
func Row(split, videoID string, index int, key string, data []byte, at time.Time) FrameRow {
	return FrameRow{
		Split:      split,
		VideoID:    videoID,
		FrameIndex: int32(index),
		Key:        key,
		ByteSize:   int64(len(data)),
		SHA256:     ComputeChecksum(data),
		WrittenAt:  at.UTC(),
	}
}

// Writer buffers rows and writes them as one parquet file on Close.
type Writer struct {
	path string

	mu   sync.Mutex
	rows []FrameRow
}

// NewWriter creates a writer for path. Nothing is written until Close.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Add appends rows.
func (w *Writer) Add(rows ...FrameRow) {
	w.mu.Lock()
	w.rows = append(w.rows, rows...)
	w.mu.Unlock()
}

// Len returns the number of buffered rows.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// Close writes the parquet file atomically.
func (w *Writer) Close() error {
	w.mu.Lock()
	rows := w.rows
	w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	tempPath := w.path + ".tmp"
	err := parquet.WriteFile(tempPath, rows,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(schemaVersionKey, SchemaVersion),
	)
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write catalog %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, w.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, w.path, err)
	}
	return nil
}

// Read loads every row of a catalog file after checking its schema version.
func Read(path string) ([]FrameRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat catalog %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	if v, _ := pf.Lookup(schemaVersionKey); v != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has %q, want %q", ErrSchemaVersion, path, v, SchemaVersion)
	}

	rows, err := parquet.Read[FrameRow](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return rows, nil
}

// Index maps frame keys to their recorded checksums.
func Index(rows []FrameRow) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.SHA256
	}
	return out
}

// ComputeChecksum returns the sha256 of data as "sha256:<hex>".
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to expected.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}
