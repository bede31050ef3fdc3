package secedgar

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/blobstore"
	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

const sample13DHeader = `SEC-HEADER
ACCESSION NUMBER: 0001234567-23-000001
CONFORMED SUBMISSION TYPE: SC 13D

SUBJECT COMPANY:
	COMPANY DATA:
		COMPANY CONFORMED NAME: NORTHERN OUTLET HOLDINGS INC
		CENTRAL INDEX KEY: 0000027419

FILED BY:
	COMPANY DATA:
		COMPANY CONFORMED NAME: PRAIRIE CAPITAL LLC
		CENTRAL INDEX KEY: 0001234567

SCHEDULE 13D

Title of Class of Securities:
Common Stock, par value $0.001 per share

11. PERCENT OF CLASS REPRESENTED BY AMOUNT IN ROW (9)
    7.5%
`

const sampleForm4 = `<SEC-DOCUMENT>
<XML>
<ownershipDocument>
  <issuer>
    <issuerCik>0000027419</issuerCik>
    <issuerName>Northern Outlet Holdings Inc</issuerName>
  </issuer>
  <reportingOwner>
    <reportingOwnerId>
      <rptOwnerCik>0009999999</rptOwnerCik>
      <rptOwnerName>Roe Jane</rptOwnerName>
    </reportingOwnerId>
    <reportingOwnerRelationship>
      <isDirector>1</isDirector>
      <isOfficer>0</isOfficer>
    </reportingOwnerRelationship>
  </reportingOwner>
</ownershipDocument>
</XML>
</SEC-DOCUMENT>`

func newTestPipeline(t *testing.T) (*ingest.Pipeline, *graph.MemoryStore) {
	t.Helper()
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	recorder := provenance.NewRecorder(blobstore.NewMemoryStore(), model.Extractor{Name: sourceName, Version: "1.0.0"})
	return ingest.NewPipeline(g, writer, resolve.NewResolver(g, nil), recorder, nil), g
}

func TestParseFilingHeaderRoles(t *testing.T) {
	h, err := ParseFilingHeader([]byte(sample13DHeader))
	require.NoError(t, err)
	assert.Equal(t, "NORTHERN OUTLET HOLDINGS INC", h.Subject.Name)
	assert.Equal(t, "0000027419", h.Subject.CIK)
	assert.Equal(t, "PRAIRIE CAPITAL LLC", h.FiledBy.Name)
	assert.Equal(t, "0001234567", h.FiledBy.CIK)

	_, err = ParseFilingHeader([]byte("SEC-HEADER\nno blocks here\n"))
	require.Error(t, err)
}

func TestParseOwnershipDetails(t *testing.T) {
	d := ParseOwnershipDetails([]byte(sample13DHeader))
	assert.Equal(t, 7.5, d.Percent)
	assert.Equal(t, "Common Stock, par value $0.001 per share", d.ShareClass)

	// A filing without a cover page yields zero values.
	empty := ParseOwnershipDetails([]byte("SEC-HEADER\n"))
	assert.Zero(t, empty.Percent)
	assert.Empty(t, empty.ShareClass)
}

func TestParseForm4(t *testing.T) {
	f, err := ParseForm4([]byte(sampleForm4))
	require.NoError(t, err)
	assert.Equal(t, "0000027419", f.IssuerCIK)
	assert.Equal(t, "Roe Jane", f.OwnerName)
	assert.True(t, f.IsDirector)
	assert.False(t, f.IsOfficer)
}

// Ontario incorporation (A6) flags Canadian; the literal state code
// "CA" is California and must not.
func TestProcessCompanyJurisdiction(t *testing.T) {
	pipe, g := newTestPipeline(t)
	a := New(pipe)
	ctx := context.Background()

	cases := []struct {
		cik      string
		state    string
		canadian bool
	}{
		{"0000011111", "A6", true},
		{"0000022222", "CA", false},
	}
	for _, tc := range cases {
		doc := &submissionsDoc{CIK: tc.cik, Name: "Co " + tc.cik, StateOfIncorporation: tc.state}
		raw := []byte(fmt.Sprintf(`{"cik":%q,"stateOfIncorporation":%q}`, tc.cik, tc.state))
		res, err := a.Process(ctx, &CompanyRecord{CIK: tc.cik, Doc: doc, Raw: raw})
		require.NoError(t, err)

		node, err := g.GetNode(ctx, res.EntityID)
		require.NoError(t, err)
		assert.Equal(t, "CA", node.Properties["jurisdiction"], tc.state)
		assert.Equal(t, tc.canadian, node.Properties["is_canadian"], tc.state)
	}

	// The Ontario company carries the province detail; California none.
	orgs, err := g.NodesByType(ctx, model.EntityOrganization)
	require.NoError(t, err)
	for _, o := range orgs {
		if o.ExternalID(model.IDSecCik) == "0000011111" {
			assert.Equal(t, "CA-ON", o.Properties["province"])
		} else {
			assert.Nil(t, o.Properties["province"])
		}
	}
}

func TestProcessOwnershipEmitsOwns(t *testing.T) {
	pipe, g := newTestPipeline(t)
	a := New(pipe)
	ctx := context.Background()

	header, err := ParseFilingHeader([]byte(sample13DHeader))
	require.NoError(t, err)
	rec := &OwnershipRecord{
		Accession: "0001234567-23-000001",
		Form:      "SC 13D",
		FiledAt:   "2023-04-12",
		Header:    header,
		Details:   ParseOwnershipDetails([]byte(sample13DHeader)),
		Raw:       []byte(sample13DHeader),
	}
	res, err := a.Process(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionCreated, res.Action)

	orgs, err := g.NodesByType(ctx, model.EntityOrganization)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	var holder *model.Entity
	for _, o := range orgs {
		if o.Name == "PRAIRIE CAPITAL LLC" {
			holder = o
		}
	}
	require.NotNil(t, holder)
	edges, err := g.EdgesFrom(ctx, holder.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeOwns, edges[0].Type)
	assert.Equal(t, "0001234567-23-000001", edges[0].Properties["filing_accession"])
	assert.Equal(t, "SC 13D", edges[0].Properties["form_type"])
	assert.Equal(t, "2023-04-12", edges[0].Properties["filing_date"])
	assert.Equal(t, 7.5, edges[0].Properties["ownership_percentage"])
	assert.Equal(t, "Common Stock, par value $0.001 per share", edges[0].Properties["share_class"])
	require.NotNil(t, edges[0].ValidFrom)

	// Replay is idempotent through the accession merge key.
	res2, err := a.Process(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionUpdated, res2.Action)
	edges, err = g.EdgesFrom(ctx, holder.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestProcessInsiderEmitsDirectorOf(t *testing.T) {
	pipe, g := newTestPipeline(t)
	a := New(pipe)
	ctx := context.Background()

	form4, err := ParseForm4([]byte(sampleForm4))
	require.NoError(t, err)
	res, err := a.Process(ctx, &InsiderRecord{
		Accession: "0009999999-23-000042",
		FiledAt:   "2023-05-01",
		Form4:     form4,
		Raw:       []byte(sampleForm4),
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionCreated, res.Action)

	person, err := g.GetNode(ctx, res.EntityID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityPerson, person.Type)

	edges, err := g.EdgesFrom(ctx, person.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeDirectorOf, edges[0].Type)
	assert.Equal(t, "Director", edges[0].Properties["title"])
}
