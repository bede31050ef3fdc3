package cra

import (
	"context"
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

func sampleBulk() (ident, financ, donees []map[string]string) {
	ident = []map[string]string{
		{"bn": "123456789RR0001", "legal name": "Maple Trust", "city": "Toronto", "province": "ON", "postal code": "M5H 2N2", "status": "Registered"},
		{"bn": "987654321RR0001", "legal name": "Prairie Fund", "city": "Calgary", "province": "AB", "status": "Registered"},
		{"bn": "not-a-bn", "legal name": "Broken Row"},
	}
	financ = []map[string]string{
		{"bn": "123456789RR0001", "fiscal period end": "2023-03-31", "total revenue": "1,250,000"},
	}
	donees = []map[string]string{
		{"bn": "123456789RR0001", "donee name": "Northern News Cooperative", "donee bn": "555555555RR0001", "donee province": "ON", "amount": "80,000"},
		{"bn": "123456789RR0001", "donee name": "Media Literacy Project", "donee city": "Ottawa", "amount": "20000"},
		{"bn": "987654321RR0001", "donee name": "", "amount": "5"},
	}
	return ident, financ, donees
}

func TestJoinBulk(t *testing.T) {
	ident, financ, donees := sampleBulk()
	charities := JoinBulk(ident, financ, donees)
	require.Len(t, charities, 2)

	maple := charities[0]
	assert.Equal(t, "123456789RR0001", maple.BN)
	assert.Equal(t, "Maple Trust", maple.Name)
	assert.Equal(t, 2023, maple.FiscalYear())
	assert.Equal(t, 1250000.0, maple.TotalRevenue)
	require.Len(t, maple.Gifts, 2)
	assert.Equal(t, "555555555RR0001", maple.Gifts[0].DoneeBN)
	assert.Equal(t, 80000.0, maple.Gifts[0].Amount)

	// Nameless, BN-less donee rows are dropped.
	assert.Empty(t, charities[1].Gifts)
}

func TestProcessCharityWritesFundingEdges(t *testing.T) {
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	recorder := provenance.NewRecorder(blobstore.NewMemoryStore(), model.Extractor{Name: sourceName, Version: "1.0.0"})
	pipe := ingest.NewPipeline(g, writer, resolve.NewResolver(g, nil), recorder, nil)
	a := New(pipe)

	ident, financ, donees := sampleBulk()
	charities := JoinBulk(ident, financ, donees)

	res, err := a.Process(context.Background(), charities[0])
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionCreated, res.Action)
	assert.Equal(t, "123456789RR0001", res.RecordID)

	ctx := context.Background()
	maple, err := g.GetNode(ctx, res.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "CA-ON", maple.Properties["jurisdiction"])
	assert.Equal(t, "M5H 2N2", maple.Address.Postal)

	orgs, err := g.NodesByType(ctx, model.EntityOrganization)
	require.NoError(t, err)
	require.Len(t, orgs, 3)

	var donee *model.Entity
	for _, o := range orgs {
		if o.Name == "Northern News Cooperative" {
			donee = o
		}
	}
	require.NotNil(t, donee)
	edges, err := g.EdgesFrom(ctx, donee.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeFundedBy, edges[0].Type)
	assert.Equal(t, "CAD", edges[0].Properties["currency"])
	assert.Equal(t, 2023, edges[0].Properties["fiscal_year"])
	assert.Equal(t, 80000.0, edges[0].Properties["amount"])

	// Replaying the record updates in place.
	res2, err := a.Process(context.Background(), charities[0])
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionUpdated, res2.Action)
	orgs, err = g.NodesByType(ctx, model.EntityOrganization)
	require.NoError(t, err)
	assert.Len(t, orgs, 3)
}

func TestProvinceJurisdiction(t *testing.T) {
	assert.Equal(t, "CA-ON", provinceJurisdiction("ON"))
	assert.Equal(t, "CA-ON", provinceJurisdiction("on"))
	assert.Equal(t, "CA", provinceJurisdiction(""))
	assert.Equal(t, "CA", provinceJurisdiction("ZZ"))
}
