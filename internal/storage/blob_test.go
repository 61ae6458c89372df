package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreLocalDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "frames")

	s, err := OpenBlob(ctx, dir, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutBatch(ctx, []Entry{
		{Key: FrameKey("clip", 1), Value: []byte("one")},
		{Key: FrameKey("clip", 2), Value: []byte("two")},
	}))

	// Keys map onto nested paths.
	data, err := os.ReadFile(filepath.Join(dir, "clip", "00000002"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	assert.False(t, s.Atomic())
	assert.Equal(t, "file://"+dir, s.URI())
}

func TestBlobStoreWalkNested(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBlob(ctx, "mem://", false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, FrameKey("b", 1), []byte("b1")))
	require.NoError(t, s.Put(ctx, FrameKey("a", 2), []byte("a2")))
	require.NoError(t, s.Put(ctx, FrameKey("a", 1), []byte("a1")))

	got := map[string]string{}
	var order []string
	err = s.Walk(ctx, func(key string, value []byte) error {
		got[key] = string(value)
		order = append(order, key)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"a/00000001": "a1",
		"a/00000002": "a2",
		"b/00000001": "b1",
	}, got)
	assert.Equal(t, []string{"a/00000001", "a/00000002", "b/00000001"}, order)
}

func TestBlobStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBlob(ctx, "mem://", false)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, FrameKey("nope", 1))
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Has(ctx, FrameKey("nope", 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlobStoreReadOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBlob(ctx, dir, true)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Put(ctx, FrameKey("v", 1), []byte("x")), ErrReadOnly)
}
