//go:build gcp

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store on Google Cloud Storage. Built only under
// the gcp tag so default builds do not pull the GCP SDK.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket string
}

// NewGCSStore creates a GCS-backed blob store (credentials via ADC).
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// Put persists the payload and returns its structured key and sha256.
func (s *GCSStore) Put(ctx context.Context, req PutRequest) (string, string, error) {
	if err := req.validate(); err != nil {
		return "", "", err
	}
	key := Key(req.Source, req.ID, req.Ext, req.RetrievedAt)
	hash := hashBytes(req.Body)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = req.ContentType
	if w.ContentType == "" {
		w.ContentType = "application/octet-stream"
	}
	if len(req.Metadata) > 0 {
		w.Metadata = req.Metadata
	}
	if _, err := w.Write(req.Body); err != nil {
		_ = w.Close()
		return "", "", fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return key, hash, nil
}

// Get returns the bytes stored under key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Exists reports whether key is present.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs head failed for %s: %w", key, err)
	}
	return true, nil
}

// Presign returns a V4 signed GET URL for key.
func (s *GCSStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("gcs presign failed for %s: %w", key, err)
	}
	return url, nil
}
