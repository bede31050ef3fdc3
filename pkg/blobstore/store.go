// Package blobstore persists raw source payloads (JSON, CSV, XML, HTML,
// PDF, ZIP) intact and addresses them by structured key. Every put
// returns the key plus the SHA-256 of the stored bytes; evidence rows
// reference blobs by key.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/civiclens/mitds/pkg/identifiers"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrBadRequest = errors.New("invalid blob request")
)

// PutRequest describes one raw payload to persist.
type PutRequest struct {
	Source      string            // adapter name, first key segment
	ID          string            // source-assigned id, sanitized into the key
	Ext         string            // file extension without dot ("xml", "zip")
	ContentType string
	RetrievedAt time.Time // determines the yyyy-mm key segment
	Metadata    map[string]string
	Body        []byte
}

// Store is the object-store boundary. Implementations: S3, GCS (gcp
// build tag), and an in-memory store for tests.
type Store interface {
	// Put persists the payload and returns its key and sha256 hex hash.
	Put(ctx context.Context, req PutRequest) (key, hash string, err error)

	// Get returns the raw bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Presign returns a time-limited URL for direct retrieval.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Key builds the structured object key {source}/{yyyy-mm}/{id}.{ext}.
func Key(source, id, ext string, retrievedAt time.Time) string {
	if retrievedAt.IsZero() {
		retrievedAt = time.Now().UTC()
	}
	return fmt.Sprintf("%s/%s/%s.%s",
		identifiers.SanitizeKeyPart(source),
		retrievedAt.UTC().Format("2006-01"),
		identifiers.SanitizeKeyPart(id),
		ext)
}

func (r PutRequest) validate() error {
	if r.Source == "" || r.ID == "" || r.Ext == "" {
		return fmt.Errorf("%w: source, id and ext are required", ErrBadRequest)
	}
	if len(r.Body) == 0 {
		return fmt.Errorf("%w: empty body", ErrBadRequest)
	}
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
