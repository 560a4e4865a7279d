package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps each key as an object under bucket/prefix. It backs the
// queue for managed devices whose local disk is not trusted to survive a
// reinstall. Application Default Credentials are assumed.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewGCSStore creates a GCS client shared by all operations of the store.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("NewGCSStore: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{
		client:  client,
		bucket:  bucket,
		prefix:  strings.TrimPrefix(prefix, "/"),
		timeout: 10 * time.Second,
	}, nil
}

// Close closes the underlying storage client.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Read implements Storage.
func (s *GCSStore) Read(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("GCSStore.Read: open %s: %w", s.objectName(key), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("GCSStore.Read: read %s: %w", s.objectName(key), err)
	}
	return string(data), nil
}

// Write implements Storage.
func (s *GCSStore) Write(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := io.WriteString(w, value); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Write: write %s: %w", s.objectName(key), err)
	}
	// The object only becomes visible once Close succeeds.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Write: finalize %s: %w", s.objectName(key), err)
	}
	return nil
}

func (s *GCSStore) objectName(key string) string {
	return path.Join(s.prefix, key+".json")
}

var _ Storage = (*GCSStore)(nil)
