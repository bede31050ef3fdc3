package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/store"
)

func seedEvents(t *testing.T, events *store.MemoryEventStore, entityID string, times []time.Time) {
	t.Helper()
	batch := make([]model.TimingEvent, 0, len(times))
	for _, ts := range times {
		batch = append(batch, model.TimingEvent{
			EntityID:  entityID,
			Timestamp: ts,
			EventType: "ad_delivery",
		})
	}
	require.NoError(t, events.Append(context.Background(), batch...))
}

func TestDetectEmptyWindow(t *testing.T) {
	d := New(store.NewMemoryEventStore(), nil, nil)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	res, err := d.Detect(context.Background(), []string{"a", "b"}, Options{From: from, To: from.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, res.Bursts)
	assert.Empty(t, res.LeadLag)
	assert.Nil(t, res.Sync)
	assert.Zero(t, res.Score)
	assert.False(t, res.IsCoordinated)
	assert.Equal(t, "no temporal coordination indicators found", res.Explanation)
}

func TestDetectCoordinatedGroup(t *testing.T) {
	events := store.NewMemoryEventStore()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(96 * time.Hour)

	// a and b fire identical rapid bursts at 09:00 daily; c repeats the
	// schedule two hours later. The lag scan stays under the daily
	// period so the two-hour shift is unambiguous.
	burst := func(entityID string, hour int) {
		var times []time.Time
		for day := 0; day < 4; day++ {
			dayStart := from.Add(time.Duration(day*24) * time.Hour)
			for i := 0; i < 4; i++ {
				times = append(times, dayStart.Add(time.Duration(hour)*time.Hour).Add(time.Duration(i)*time.Minute))
			}
		}
		seedEvents(t, events, entityID, times)
	}
	burst("outlet-a", 9)
	burst("outlet-b", 9)
	burst("outlet-c", 11)

	d := New(events, nil, nil)
	res, err := d.Detect(context.Background(), []string{"outlet-a", "outlet-b", "outlet-c"},
		Options{From: from, To: to, MaxLagHours: 12, Seed: 7})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Bursts)
	require.Len(t, res.LeadLag, 3)
	for _, f := range res.LeadLag {
		assert.Less(t, f.PValue, 0.05)
	}
	// a and c are offset by two hours, a leading.
	var ac *LeadLagFinding
	for i := range res.LeadLag {
		if res.LeadLag[i].LeaderID == "outlet-a" && res.LeadLag[i].FollowerID == "outlet-c" {
			ac = &res.LeadLag[i]
		}
	}
	require.NotNil(t, ac)
	assert.Equal(t, 120.0, ac.LagMinutes)

	require.NotNil(t, res.Sync)
	// a/b histograms are identical, c diverges: avg JS = 2·ln2/3.
	assert.InDelta(t, 1.0/3, res.Sync.SyncScore, 0.01)

	// 0.3 (all burst) + 0.3 (three pairs) + 0.4·sync
	assert.InDelta(t, 0.733, res.Score, 0.01)
	assert.True(t, res.IsCoordinated)
	assert.Contains(t, res.Explanation, "bursts")
	assert.Contains(t, res.Explanation, "lead-lag")
}

func TestHardNegativeFilterDropsSyndicated(t *testing.T) {
	f, err := NewHardNegativeFilter([]string{
		`event_type == "syndicated"`,
		`metadata.feed == "wire_service"`,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	events := []model.TimingEvent{
		{EntityID: "a", Timestamp: now, EventType: "ad_delivery"},
		{EntityID: "a", Timestamp: now, EventType: "syndicated"},
		{EntityID: "b", Timestamp: now, EventType: "post", Metadata: map[string]any{"feed": "wire_service"}},
		{EntityID: "b", Timestamp: now, EventType: "post"},
	}
	kept := f.Apply(events, nil)
	require.Len(t, kept, 2)
	assert.Equal(t, "ad_delivery", kept[0].EventType)
	assert.Equal(t, "post", kept[1].EventType)
}

func TestHardNegativeFilterRejectsBadRule(t *testing.T) {
	_, err := NewHardNegativeFilter([]string{`event_type ==`})
	require.Error(t, err)
}

func TestOverallScoreMix(t *testing.T) {
	sync := &SyncFinding{SyncScore: 1.0}
	// Every entity bursting, three significant pairs, perfect sync.
	assert.InDelta(t, 1.0, overallScore(4, 4, 3, sync), 1e-9)
	// Absent components contribute zero.
	assert.InDelta(t, 0.3, overallScore(2, 2, 0, nil), 1e-9)
	assert.Zero(t, overallScore(0, 0, 0, nil))
}
