package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
)

func seedOrg(t *testing.T, store *graph.MemoryStore, name, ein, jur string) string {
	t.Helper()
	w := graph.NewWriter(store, nil)
	var id string
	err := w.WriteRecord(context.Background(), func(ctx context.Context, rw *graph.RecordWriter) error {
		org := model.NewEntity(model.EntityOrganization, name)
		if ein != "" {
			org.SetExternalID(model.IDEin, ein)
		}
		if jur != "" {
			org.Properties["jurisdiction"] = jur
		}
		res, err := rw.UpsertNode(ctx, org)
		id = res.ID
		return err
	})
	require.NoError(t, err)
	return id
}

func TestNormalizeNameIdempotentAndSuffixes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Foundation, Inc.", "acme"},
		{"ACME FOUNDATION", "acme"},
		{"Média Nordique Ltée Inc", "media nordique ltee"},
		{"North Star Society", "north star"},
		{"Company", "company"}, // single-token names keep their token
	}
	for _, tt := range tests {
		got := NormalizeName(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		// Idempotency.
		assert.Equal(t, got, NormalizeName(got), tt.in)
	}
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 1.0, TokenSortRatio("Acme Media Group", "Media Group Acme Inc."))
	assert.Equal(t, 1.0, TokenSortRatio("Same Name", "same name"))
	assert.Less(t, TokenSortRatio("Acme Media", "Zenith Broadcasting"), 0.5)
	assert.Equal(t, 0.0, TokenSortRatio("", "anything"))
}

func TestResolverIdentifierShortCircuit(t *testing.T) {
	store := graph.NewMemoryStore()
	id := seedOrg(t, store, "Acme Foundation, Inc.", "11-1111111", "US")
	r := NewResolver(store, nil)

	cands, err := r.Resolve(context.Background(), &model.Mention{
		Name:         "ACME FOUNDATION",
		Type:         model.EntityOrganization,
		ExternalIDs:  map[string]string{model.IDEin: "11-1111111"},
		Jurisdiction: "US",
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, id, cands[0].EntityID)
	assert.Equal(t, 1.0, cands[0].Confidence)
	assert.Contains(t, cands[0].Signals, "identifier")

	dec := r.Decide(cands)
	assert.Equal(t, model.ResolveAutoMerge, dec.Action)
}

func TestResolverFuzzyWithJurisdiction(t *testing.T) {
	store := graph.NewMemoryStore()
	id := seedOrg(t, store, "Northern Lights Media Inc.", "", "CA-ON")
	r := NewResolver(store, nil)

	cands, err := r.Resolve(context.Background(), &model.Mention{
		Name:         "Northern Lights Media",
		Type:         model.EntityOrganization,
		Jurisdiction: "CA-ON",
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, id, cands[0].EntityID)
	// name (0.3 * 1.0) + jurisdiction (0.1) = 0.4: below review.
	assert.InDelta(t, 0.4, cands[0].Confidence, 1e-9)
	assert.Equal(t, model.ResolveDiscard, r.Decide(cands).Action)
}

func TestResolverDissimilarNameExcluded(t *testing.T) {
	store := graph.NewMemoryStore()
	seedOrg(t, store, "Zenith Broadcasting Corp", "", "US")
	r := NewResolver(store, nil)

	cands, err := r.Resolve(context.Background(), &model.Mention{
		Name: "Acme Foundation",
		Type: model.EntityOrganization,
	})
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Equal(t, model.ResolveDiscard, r.Decide(cands).Action)
}

func TestResolverTieBreakPrefersFewerEdges(t *testing.T) {
	store := graph.NewMemoryStore()
	busy := seedOrg(t, store, "Twin Org", "", "US")
	quiet := seedOrg(t, store, "Twin Org", "", "US-NY")

	// Give the first node outgoing edges so it loses the tie-break.
	w := graph.NewWriter(store, nil)
	funder := seedOrg(t, store, "Some Funder", "77-7777777", "US")
	require.NoError(t, w.WriteRecord(context.Background(), func(ctx context.Context, rw *graph.RecordWriter) error {
		rel := model.NewRelationship(model.EdgeFundedBy, busy, funder)
		rel.Properties["fiscal_year"] = 2023
		_, err := rw.UpsertEdge(ctx, rel)
		return err
	}))

	r := NewResolver(store, nil)
	cands, err := r.Resolve(context.Background(), &model.Mention{
		Name: "Twin Org",
		Type: model.EntityOrganization,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(cands), 2)
	assert.Equal(t, quiet, cands[0].EntityID)
}
