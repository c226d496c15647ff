//go:build gcp

package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(digest string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(blobName(s.prefix, digest))
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	digest := canonicalize.HashBytes(data)
	// DoesNotExist makes a concurrent duplicate upload fail instead of overwrite.
	w := s.object(digest).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("evidence: gcs write %s: %w", digest, err)
	}
	if err := w.Close(); err != nil {
		if ok, _ := s.Exists(ctx, digest); ok {
			return digest, nil
		}
		return "", fmt.Errorf("evidence: gcs close %s: %w", digest, err)
	}
	return digest, nil
}

func (s *GCSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	if err := checkDigest("evidence.GCSStore.Get", digest); err != nil {
		return nil, err
	}
	r, err := s.object(digest).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("evidence: gcs get %s: %w", digest, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, digest string) (bool, error) {
	if err := checkDigest("evidence.GCSStore.Exists", digest); err != nil {
		return false, err
	}
	_, err := s.object(digest).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("evidence: gcs attrs %s: %w", digest, err)
	}
	return true, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
