// Package provenance records where every ingested fact came from: the
// raw payload goes to the blob store intact, and an evidence row links
// the payload's canonical content hash with the extractor that parsed
// it. Evidence is append-only.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/civiclens/mitds/pkg/blobstore"
	"github.com/civiclens/mitds/pkg/model"
)

// ContentHash computes the SHA-256 of the canonical form of body.
// JSON payloads are canonicalized per RFC 8785 (JCS) first so that
// formatting differences do not change the hash; all other content
// hashes raw bytes.
func ContentHash(contentType string, body []byte) (string, error) {
	canonical := body
	if isJSON(contentType) {
		c, err := jcs.Transform(body)
		if err != nil {
			return "", fmt.Errorf("canonicalize json: %w", err)
		}
		canonical = c
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json")
}

// NeedsReextract reports whether evidence produced by oldVersion should
// be superseded because the current extractor is strictly newer.
// Unparseable versions compare as never-newer.
func NeedsReextract(oldVersion, currentVersion string) bool {
	old, err := semver.NewVersion(oldVersion)
	if err != nil {
		return false
	}
	cur, err := semver.NewVersion(currentVersion)
	if err != nil {
		return false
	}
	return cur.GreaterThan(old)
}

// Recorder persists raw payloads and builds evidence records for one
// extractor. Adapters hold one Recorder each.
type Recorder struct {
	store     blobstore.Store
	extractor model.Extractor
}

// NewRecorder creates a recorder writing through the given blob store.
func NewRecorder(store blobstore.Store, extractor model.Extractor) *Recorder {
	return &Recorder{store: store, extractor: extractor}
}

// RecordRequest describes one payload to log.
type RecordRequest struct {
	EvidenceType string
	SourceURL    string
	Source       string // blob key segment; usually the adapter name
	ID           string
	Ext          string
	ContentType  string
	Body         []byte
	Confidence   float64 // extraction confidence; 0 means 1.0
}

// Record stores the payload and returns the evidence row referencing it.
// Blob upload retries live in the store; a permanent failure here fails
// the enclosing record only.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*model.Evidence, error) {
	retrievedAt := time.Now().UTC()
	key, _, err := r.store.Put(ctx, blobstore.PutRequest{
		Source:      req.Source,
		ID:          req.ID,
		Ext:         req.Ext,
		ContentType: req.ContentType,
		RetrievedAt: retrievedAt,
		Body:        req.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("store raw payload: %w", err)
	}

	hash, err := ContentHash(req.ContentType, req.Body)
	if err != nil {
		return nil, err
	}

	ev := model.NewEvidence(req.EvidenceType, req.SourceURL, r.extractor)
	ev.RetrievedAt = retrievedAt
	ev.RawRef = key
	ev.ContentHash = hash
	if req.Confidence > 0 {
		ev.ExtractionConfidence = req.Confidence
	}
	return ev, nil
}
