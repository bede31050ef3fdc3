package provenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/blobstore"
	"github.com/civiclens/mitds/pkg/model"
)

func TestContentHashJSONCanonical(t *testing.T) {
	// Same document, different formatting: hashes must agree.
	a := []byte(`{"b": 2, "a": 1}`)
	b := []byte("{\n  \"a\": 1,\n  \"b\": 2\n}")

	ha, err := ContentHash("application/json", a)
	require.NoError(t, err)
	hb, err := ContentHash("application/json", b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	// Raw bytes for non-JSON: formatting matters.
	hc, err := ContentHash("text/csv", a)
	require.NoError(t, err)
	hd, err := ContentHash("text/csv", b)
	require.NoError(t, err)
	assert.NotEqual(t, hc, hd)
}

func TestNeedsReextract(t *testing.T) {
	tests := []struct {
		old, cur string
		want     bool
	}{
		{"1.0.0", "1.1.0", true},
		{"1.1.0", "1.1.0", false},
		{"2.0.0", "1.9.9", false},
		{"garbage", "1.0.0", false},
		{"1.0.0", "garbage", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeedsReextract(tt.old, tt.cur), "%s -> %s", tt.old, tt.cur)
	}
}

func TestRecorderRecord(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	rec := NewRecorder(store, model.Extractor{Name: "irs990", Version: "1.4.0"})

	ev, err := rec.Record(ctx, RecordRequest{
		EvidenceType: "filing",
		SourceURL:    "https://example.org/990/202312345.xml",
		Source:       "irs990",
		ID:           "202312345",
		Ext:          "xml",
		ContentType:  "application/xml",
		Body:         []byte("<Return/>"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "filing", ev.Type)
	assert.Equal(t, "irs990", ev.Extractor.Name)
	assert.Equal(t, 1.0, ev.ExtractionConfidence)
	assert.Len(t, ev.ContentHash, 64)

	// The raw blob is retrievable by the evidence's key.
	got, err := store.Get(ctx, ev.RawRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("<Return/>"), got)
}
