package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/model"
)

func upsertOrg(t *testing.T, w *Writer, name, ein string) NodeResult {
	t.Helper()
	var res NodeResult
	err := w.WriteRecord(context.Background(), func(ctx context.Context, rw *RecordWriter) error {
		obs := model.NewEntity(model.EntityOrganization, name)
		obs.ID = ""
		if ein != "" {
			obs.SetExternalID(model.IDEin, ein)
		}
		var err error
		res, err = rw.UpsertNode(ctx, obs)
		return err
	})
	require.NoError(t, err)
	return res
}

func TestUpsertNodeIdempotentByExternalID(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)

	first := upsertOrg(t, w, "Acme Foundation, Inc.", "11-1111111")
	assert.True(t, first.Created)

	// Re-observing the same EIN under a different casing of the name
	// must hit the same node.
	second := upsertOrg(t, w, "ACME FOUNDATION", "11-1111111")
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	nodes, err := store.NodesByType(context.Background(), model.EntityOrganization)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestUpsertNodeConflictingIdentifierNeedsReview(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)

	upsertOrg(t, w, "Acme Foundation", "11-1111111")

	var res NodeResult
	err := w.WriteRecord(context.Background(), func(ctx context.Context, rw *RecordWriter) error {
		obs := model.NewEntity(model.EntityOrganization, "Acme Foundation")
		obs.ID = ""
		obs.SetExternalID(model.IDEin, "11-1111111")
		obs.SetExternalID(model.IDBn, "123456789RR0001")
		var err error
		res, err = rw.UpsertNode(ctx, obs)
		if err != nil {
			return err
		}
		// Second observation disagrees on the BN: stored value stays.
		obs2 := model.NewEntity(model.EntityOrganization, "Acme Foundation")
		obs2.ID = ""
		obs2.SetExternalID(model.IDEin, "11-1111111")
		obs2.SetExternalID(model.IDBn, "999999999RR0001")
		res, err = rw.UpsertNode(ctx, obs2)
		return err
	})
	require.NoError(t, err)
	assert.True(t, res.NeedsReview)

	n, err := store.GetNode(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456789RR0001", n.ExternalID(model.IDBn))
}

func TestUpsertEdgeMergeKeyIdempotent(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)
	ctx := context.Background()

	recipient := upsertOrg(t, w, "Recipient Org", "98-7654321")
	funder := upsertOrg(t, w, "Funder Org", "12-3456789")

	mkEdge := func() *model.Relationship {
		rel := model.NewRelationship(model.EdgeFundedBy, recipient.ID, funder.ID)
		rel.ID = ""
		rel.Properties["amount"] = 50000.0
		rel.Properties["currency"] = "USD"
		rel.Properties["fiscal_year"] = 2023
		rel.Properties["grant_purpose"] = "general support"
		return rel
	}

	var first, second EdgeResult
	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		var err error
		first, err = rw.UpsertEdge(ctx, mkEdge())
		return err
	}))
	assert.True(t, first.Created)

	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		var err error
		second, err = rw.UpsertEdge(ctx, mkEdge())
		return err
	}))
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	// A different fiscal year is a different edge (lifecycle rule:
	// contradictory later observations create a new edge).
	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		rel := mkEdge()
		rel.Properties["fiscal_year"] = 2024
		res, err := rw.UpsertEdge(ctx, rel)
		assert.True(t, res.Created)
		return err
	}))
}

func TestUpdatedAtMonotonic(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })
	w := NewWriter(store, nil)

	res := upsertOrg(t, w, "Clock Org", "10-0000001")
	n1, err := store.GetNode(context.Background(), res.ID)
	require.NoError(t, err)

	// Clock moves forward: updated_at advances, created_at is fixed.
	current = base.Add(time.Hour)
	upsertOrg(t, w, "Clock Org", "10-0000001")
	n2, err := store.GetNode(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, n1.CreatedAt, n2.CreatedAt)
	assert.True(t, n2.UpdatedAt.After(n1.UpdatedAt))

	// Clock stuck: updated_at still never decreases.
	current = base
	upsertOrg(t, w, "Clock Org", "10-0000001")
	n3, err := store.GetNode(context.Background(), res.ID)
	require.NoError(t, err)
	assert.False(t, n3.UpdatedAt.Before(n2.UpdatedAt))
	assert.True(t, n3.UpdatedAt.Compare(n3.CreatedAt) >= 0)
}

func TestSharedInfraUndirected(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)
	ctx := context.Background()

	var a, b NodeResult
	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		var err error
		outletA := model.NewEntity(model.EntityOutlet, "alpha.example")
		outletA.SetExternalID("primary_domain", "alpha.example")
		a, err = rw.UpsertNode(ctx, outletA)
		if err != nil {
			return err
		}
		outletB := model.NewEntity(model.EntityOutlet, "beta.example")
		outletB.SetExternalID("primary_domain", "beta.example")
		b, err = rw.UpsertNode(ctx, outletB)
		return err
	}))

	signals := []model.InfraSignal{{SignalType: "same_analytics_id", Value: "UA-12345-6", Weight: 4.0}}

	var first, reversed EdgeResult
	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		var err error
		first, err = rw.CreateSharedInfra(ctx, a.ID, b.ID, signals, 4.0, "analytics")
		return err
	}))
	assert.True(t, first.Created)

	// Reversed endpoints must resolve to the same edge.
	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		var err error
		reversed, err = rw.CreateSharedInfra(ctx, b.ID, a.ID, signals, 4.0, "analytics")
		return err
	}))
	assert.False(t, reversed.Created)
	assert.Equal(t, first.ID, reversed.ID)
}

func TestEdgeEndpointsMustExist(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)

	err := w.WriteRecord(context.Background(), func(ctx context.Context, rw *RecordWriter) error {
		rel := model.NewRelationship(model.EdgeFundedBy, "missing-a", "missing-b")
		_, err := rw.UpsertEdge(ctx, rel)
		return err
	})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestPointInTimeQueries(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)
	ctx := context.Background()

	person := model.NewEntity(model.EntityPerson, "Jane Roe")
	person.SetExternalID(model.IDIrs990Name, "jane roe")
	org := model.NewEntity(model.EntityOrganization, "Board Org")
	org.SetExternalID(model.IDEin, "44-4444444")

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, w.WriteRecord(ctx, func(ctx context.Context, rw *RecordWriter) error {
		if _, err := rw.UpsertNode(ctx, person); err != nil {
			return err
		}
		if _, err := rw.UpsertNode(ctx, org); err != nil {
			return err
		}
		rel := model.NewRelationship(model.EdgeDirectorOf, person.ID, org.ID)
		rel.ValidFrom = &from
		rel.ValidTo = &to
		rel.Properties["title"] = "Director"
		_, err := rw.UpsertEdge(ctx, rel)
		return err
	}))

	edgesAt := func(t2 time.Time) int {
		edges, err := store.EdgesValidAt(ctx, model.EdgeDirectorOf, t2)
		require.NoError(t, err)
		return len(edges)
	}

	assert.Equal(t, 0, edgesAt(from.Add(-time.Hour)))
	assert.Equal(t, 1, edgesAt(from))
	assert.Equal(t, 1, edgesAt(from.AddDate(1, 0, 0)))
	assert.Equal(t, 1, edgesAt(to))
	assert.Equal(t, 0, edgesAt(to.Add(time.Hour)))
}
