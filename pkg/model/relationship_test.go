package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The canonical edge vocabulary is load-bearing for every adapter and
// for downstream queries; a renamed key here is a breaking change.
func TestCorePropertiesVocabulary(t *testing.T) {
	cases := map[EdgeType][]string{
		EdgeFundedBy:        {"amount", "currency", "fiscal_year", "grant_purpose"},
		EdgeDirectorOf:      {"title", "compensation", "hours_per_week"},
		EdgeEmployedBy:      {"title", "compensation", "hours_per_week"},
		EdgeOwns:            {"ownership_percentage", "share_class", "filing_accession", "form_type", "filing_date"},
		EdgeSponsoredBy:     {"spend_lower", "spend_upper", "currency", "country"},
		EdgeSharedInfra:     {"signals", "total_score", "sharing_category"},
		EdgeLobbiesFor:      {"registration_id", "subject_matters", "jurisdiction"},
		EdgeLobbied:         {"registration_id", "subject_matters", "jurisdiction"},
		EdgeBeneficialOwner: {"control_description"},
		EdgeContributedTo:   {"amount", "contributor_class", "jurisdiction", "date_received"},
	}
	for typ, want := range cases {
		assert.Equal(t, want, CoreProperties(typ), string(typ))
	}
	assert.Empty(t, CoreProperties(EdgeLitigatedWith))
}

func TestUndirected(t *testing.T) {
	assert.True(t, EdgeSharedInfra.Undirected())
	assert.False(t, EdgeFundedBy.Undirected())
	assert.False(t, EdgeOwns.Undirected())
}

func TestNewRelationshipDefaults(t *testing.T) {
	rel := NewRelationship(EdgeFundedBy, "a", "b")
	require.NotEmpty(t, rel.ID)
	assert.Equal(t, 1.0, rel.Confidence)
	assert.NotNil(t, rel.Properties)
}

func TestValidAt(t *testing.T) {
	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	rel := NewRelationship(EdgeDirectorOf, "a", "b")
	rel.ValidFrom, rel.ValidTo = &from, &to
	assert.True(t, rel.ValidAt(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, rel.ValidAt(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, rel.ValidAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	// Nil bounds are open-ended.
	open := NewRelationship(EdgeDirectorOf, "a", "b")
	assert.True(t, open.ValidAt(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)))
}
