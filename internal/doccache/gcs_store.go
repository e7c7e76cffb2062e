package doccache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore keeps cache entries as objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed store.
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	name := key
	if s.prefix != "" {
		name = path.Join(s.prefix, key)
	}
	return s.client.Bucket(s.bucket).Object(name)
}

// Get downloads the entry for key.
func (s *GCSStore) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open object: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("read object: %w", err)
	}
	return string(data), true, nil
}

// Put uploads the entry for key.
func (s *GCSStore) Put(ctx context.Context, key, text string) error {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	if _, err := io.Copy(writer, strings.NewReader(text)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
