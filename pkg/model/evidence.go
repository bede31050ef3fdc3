package model

import (
	"time"

	"github.com/google/uuid"
)

// Extractor identifies the code that produced an evidence record.
// Version is a semver string; a newer extractor may supersede evidence
// produced by an older one.
type Extractor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Evidence is a durable provenance record: where a fact came from,
// the raw bytes it was extracted from, and how confident the extractor
// was. Evidence is append-only and never mutated.
type Evidence struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"evidence_type"`
	SourceURL            string    `json:"source_url"`
	RetrievedAt          time.Time `json:"retrieved_at"`
	Extractor            Extractor `json:"extractor"`
	RawRef               string    `json:"raw_ref"`      // object-store key
	ContentHash          string    `json:"content_hash"` // sha256 of canonical bytes
	ExtractionConfidence float64   `json:"extraction_confidence"`
}

// NewEvidence creates an evidence record with a fresh id.
func NewEvidence(evidenceType, sourceURL string, extractor Extractor) *Evidence {
	return &Evidence{
		ID:                   uuid.New().String(),
		Type:                 evidenceType,
		SourceURL:            sourceURL,
		RetrievedAt:          time.Now().UTC(),
		Extractor:            extractor,
		ExtractionConfidence: 1.0,
	}
}
