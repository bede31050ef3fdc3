package elections

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

func TestThresholdTable(t *testing.T) {
	assert.Equal(t, 250.0, Threshold("CA"))
	assert.Equal(t, 250.0, Threshold("CA-AB"))
	assert.Equal(t, 250.0, Threshold("CA-BC"))
	assert.Equal(t, 100.0, Threshold("CA-ON"))
	// Unlisted provinces use the federal threshold.
	assert.Equal(t, 250.0, Threshold("CA-QC"))
}

func TestClassifyContributor(t *testing.T) {
	assert.Equal(t, "corporate", ClassifyContributor("Boreal Media Inc.", ""))
	assert.Equal(t, "corporate", ClassifyContributor("Drivers Union", ""))
	assert.Equal(t, "individual", ClassifyContributor("Pat Lavoie", ""))
	// The explicit column wins over the name heuristic.
	assert.Equal(t, "corporate", ClassifyContributor("Pat Lavoie", "Business"))
	assert.Equal(t, "individual", ClassifyContributor("Smith Holdings Ltd", "Individual"))
}

func TestParseContributionsCSV(t *testing.T) {
	csvBody := "Third Party,Contributor Name,Contributor Type,Amount,Date Received\n" +
		"Voices for the North,Boreal Media Inc.,,\"1,500.00\",2024-01-10\n" +
		"Voices for the North,Pat Lavoie,Individual,$300.00,2024-01-12\n" +
		"Voices for the North,Small Donor,,50.00,2024-01-13\n"
	contributions, err := ParseContributionsCSV([]byte(csvBody), "CA")
	require.NoError(t, err)
	require.Len(t, contributions, 3)
	assert.Equal(t, 1500.0, contributions[0].Amount)
	assert.Equal(t, "corporate", contributions[0].ContributorType)
	assert.Equal(t, 300.0, contributions[1].Amount)
	assert.Equal(t, "individual", contributions[1].ContributorType)
}

func TestParseContributionsHTML(t *testing.T) {
	html := `<html><body><table>
<tr><th>Third Party</th><th>Contributor Name</th><th>Amount</th><th>Date Received</th></tr>
<tr><td>Ontario Voters Forum</td><td>Maple Ridge Holdings Ltd.</td><td>$150.00</td><td>2024-03-05</td></tr>
<tr><td>Ontario Voters Forum</td><td><b>Chris Ng</b></td><td>$120.00</td><td>2024-03-06</td></tr>
</table></body></html>`
	contributions, err := ParseContributionsHTML([]byte(html), "CA-ON")
	require.NoError(t, err)
	require.Len(t, contributions, 2)
	assert.Equal(t, "Maple Ridge Holdings Ltd.", contributions[0].ContributorName)
	assert.Equal(t, "corporate", contributions[0].ContributorType)
	assert.Equal(t, 150.0, contributions[0].Amount)
	assert.Equal(t, "Chris Ng", contributions[1].ContributorName)
	assert.Equal(t, "individual", contributions[1].ContributorType)

	// A page with no table rows is an empty result, not an error.
	empty, err := ParseContributionsHTML([]byte("<html><body>No disclosures.</body></html>"), "CA-ON")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProcessContribution(t *testing.T) {
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	recorder := provenance.NewRecorder(blobstore.NewMemoryStore(), model.Extractor{Name: sourceName, Version: "1.0.0"})
	pipe := ingest.NewPipeline(g, writer, resolve.NewResolver(g, nil), recorder, nil)
	a := New(pipe)
	ctx := context.Background()

	c := &Contribution{
		ThirdParty:      "Voices for the North",
		ContributorName: "Boreal Media Inc.",
		ContributorType: "corporate",
		Amount:          1500,
		DateReceived:    "2024-01-10",
		Jurisdiction:    "CA",
	}
	res, err := a.Process(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionCreated, res.Action)

	contributor, err := g.GetNode(ctx, res.EntityID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityOrganization, contributor.Type)

	edges, err := g.EdgesFrom(ctx, contributor.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeContributedTo, edges[0].Type)
	assert.Equal(t, 1500.0, edges[0].Properties["amount"])
	assert.Equal(t, "2024-01-10", edges[0].Properties["date_received"])
	assert.Equal(t, "corporate", edges[0].Properties["contributor_class"])
	assert.Equal(t, "CA", edges[0].Properties["jurisdiction"])

	// Same contributor, different date: a second edge.
	c2 := *c
	c2.DateReceived = "2024-02-01"
	c2.Amount = 400
	_, err = a.Process(ctx, &c2)
	require.NoError(t, err)
	edges, err = g.EdgesFrom(ctx, contributor.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	// Same date replays onto the same edge.
	_, err = a.Process(ctx, c)
	require.NoError(t, err)
	edges, err = g.EdgesFrom(ctx, contributor.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}
