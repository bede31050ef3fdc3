package funding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
)

func seedGraph(t *testing.T) (graph.Store, map[string]string) {
	t.Helper()
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	ctx := context.Background()

	ids := make(map[string]string)
	err := writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		for _, name := range []string{"Funder One", "Funder Two", "Outlet A", "Outlet B", "Outlet C"} {
			node := model.NewEntity(model.EntityOrganization, name)
			node.Properties["jurisdiction"] = "US"
			res, err := rw.UpsertNode(ctx, node)
			if err != nil {
				return err
			}
			ids[name] = res.ID
		}
		grants := []struct {
			recipient, funder string
			amount            float64
		}{
			{"Outlet A", "Funder One", 50000},
			{"Outlet A", "Funder Two", 20000},
			{"Outlet B", "Funder One", 30000},
			{"Outlet B", "Funder Two", 10000},
			{"Outlet C", "Funder One", 5000},
		}
		for _, gr := range grants {
			rel := model.NewRelationship(model.EdgeFundedBy, ids[gr.recipient], ids[gr.funder])
			rel.Properties["amount"] = gr.amount
			rel.Properties["fiscal_year"] = 2023
			rel.Properties["currency"] = "USD"
			if _, err := rw.UpsertEdge(ctx, rel); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return g, ids
}

func TestDetectClusters(t *testing.T) {
	g, ids := seedGraph(t)
	d := New(g, nil)

	clusters, err := d.Detect(context.Background(), Options{FiscalYear: 2023})
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	c := clusters[0]
	assert.ElementsMatch(t, []string{ids["Outlet A"], ids["Outlet B"]}, c.Members)
	assert.ElementsMatch(t, []string{ids["Funder One"], ids["Funder Two"]}, c.SharedFunders)
	assert.Equal(t, 110000.0, c.TotalFunding)
	// 0.4*min(2/10,1) + 0.3 (funding) + 0.3
	assert.InDelta(t, 0.68, c.Score, 1e-9)
	assert.InDelta(t, 0.88, c.Confidence, 1e-9)
	assert.Contains(t, c.Evidence, "Cluster of 2 entities")
	assert.Contains(t, c.Evidence, "Outlet A")
	assert.Contains(t, c.Evidence, "$110000.00")
}

func TestDetectRespectsThresholds(t *testing.T) {
	g, _ := seedGraph(t)
	d := New(g, nil)
	ctx := context.Background()

	// Requiring three shared funders dissolves the cluster.
	clusters, err := d.Detect(ctx, Options{MinSharedFunders: 3})
	require.NoError(t, err)
	assert.Empty(t, clusters)

	// A minimum amount that drops Funder Two leaves one shared funder.
	clusters, err = d.Detect(ctx, Options{MinAmount: 25000})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestSharedFunders(t *testing.T) {
	g, ids := seedGraph(t)
	d := New(g, nil)

	funders, err := d.SharedFunders(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, funders, 2)

	first := funders[0]
	assert.Equal(t, ids["Funder One"], first.FunderID)
	assert.Equal(t, "Funder One", first.FunderName)
	assert.Equal(t, 3, first.RecipientCount)
	assert.Equal(t, 85000.0, first.TotalAmount)
	assert.Equal(t, 1.0, first.FundingConcentration)
	assert.Equal(t, []int{2023}, first.YearsActive)

	// Filtering to big grants shrinks concentration against overall giving.
	funders, err = d.SharedFunders(context.Background(), Options{MinAmount: 40000})
	require.NoError(t, err)
	require.Len(t, funders, 1)
	assert.Equal(t, ids["Funder One"], funders[0].FunderID)
	assert.InDelta(t, 50000.0/85000.0, funders[0].FundingConcentration, 1e-9)
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind([]string{"a", "b", "c", "d"})
	uf.union("a", "b")
	uf.union("c", "b")
	assert.Equal(t, uf.find("a"), uf.find("c"))
	assert.NotEqual(t, uf.find("a"), uf.find("d"))
}
