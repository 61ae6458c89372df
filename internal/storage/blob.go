package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // mem:// driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore is the hierarchical backend: every frame is an object named by
// its path-like key. Writes are per key; there is no cross-key transaction.
type BlobStore struct {
	bucket   *blob.Bucket
	uri      string
	readOnly bool
}

// OpenBlob opens a bucket. A location with a scheme (gs://, s3://, mem://,
// file://) is opened through the gocloud URL mux; anything else is taken as
// a local directory.
func OpenBlob(ctx context.Context, location string, readOnly bool) (*BlobStore, error) {
	var (
		bucket *blob.Bucket
		uri    string
		err    error
	)

	if strings.Contains(location, "://") {
		bucket, err = blob.OpenBucket(ctx, location)
		uri = location
	} else {
		dir, absErr := filepath.Abs(location)
		if absErr != nil {
			return nil, fmt.Errorf("resolve %s: %w", location, absErr)
		}
		bucket, err = fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: !readOnly})
		uri = "file://" + dir
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", location, err)
	}

	return &BlobStore{bucket: bucket, uri: uri, readOnly: readOnly}, nil
}

// S3URL builds an s3:// bucket URL. Works with AWS S3, Backblaze B2,
// Cloudflare R2 and MinIO.
func S3URL(bucketName, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// Put writes a single object.
func (s *BlobStore) Put(ctx context.Context, key string, value []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(value); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// PutBatch writes entries one by one. On failure the entries before the
// failing one stay written.
func (s *BlobStore) PutBatch(ctx context.Context, entries []Entry) error {
	for i, e := range entries {
		if err := s.Put(ctx, e.Key, e.Value); err != nil {
			return fmt.Errorf("batch entry %d of %d: %w", i+1, len(entries), err)
		}
	}
	return nil
}

// Get reads an object.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Has checks if an object exists.
func (s *BlobStore) Has(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Walk lists the top level of the bucket and descends into every
// directory-like prefix, in listing order.
func (s *BlobStore) Walk(ctx context.Context, fn WalkFunc) error {
	return s.walk(ctx, "", fn)
}

func (s *BlobStore) walk(ctx context.Context, prefix string, fn WalkFunc) error {
	iter := s.bucket.List(&blob.ListOptions{
		Prefix:    prefix,
		Delimiter: "/",
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %q: %w", prefix, err)
		}

		if obj.IsDir {
			if err := s.walk(ctx, obj.Key, fn); err != nil {
				return err
			}
			continue
		}

		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("read %s: %w", obj.Key, err)
		}
		if err := fn(obj.Key, data); err != nil {
			return err
		}
	}
}

// Atomic is false: objects are written independently.
func (s *BlobStore) Atomic() bool {
	return false
}

// URI returns the bucket location.
func (s *BlobStore) URI() string {
	return s.uri
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ FrameStore = (*BlobStore)(nil)
