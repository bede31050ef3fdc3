package temporal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSDivergenceProperties(t *testing.T) {
	uniform := make([]float64, 24)
	for i := range uniform {
		uniform[i] = 1.0 / 24
	}
	peaked := make([]float64, 24)
	peaked[9] = 1

	assert.InDelta(t, 0, jsDivergence(uniform, uniform), 1e-12)
	assert.InDelta(t, 0, jsDivergence(peaked, peaked), 1e-12)

	d := jsDivergence(uniform, peaked)
	assert.Greater(t, d, 0.0)
	assert.LessOrEqual(t, d, math.Ln2+1e-9)

	// Symmetry.
	assert.InDelta(t, d, jsDivergence(peaked, uniform), 1e-12)
}

func TestHourHistogram(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(10 * time.Minute), base.Add(3 * time.Hour)}
	h := hourHistogram(times)
	assert.InDelta(t, 2.0/3, h[9], 1e-9)
	assert.InDelta(t, 1.0/3, h[12], 1e-9)

	empty := hourHistogram(nil)
	for _, v := range empty {
		assert.Zero(t, v)
	}
}

func TestSynchronizationIdenticalSchedules(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(72 * time.Hour)

	events := map[string][]time.Time{}
	for day := 0; day < 3; day++ {
		for _, hour := range []int{9, 13} {
			ts := from.Add(time.Duration(day*24+hour) * time.Hour)
			events["a"] = append(events["a"], ts)
			events["b"] = append(events["b"], ts)
		}
	}

	f := synchronization(events, from, to, 24)
	require.NotNil(t, f)
	assert.Equal(t, []string{"a", "b"}, f.EntityIDs)
	assert.InDelta(t, 1.0, f.SyncScore, 1e-9)
	assert.InDelta(t, 0, f.AvgJSDivergence, 1e-9)
	// Every daily window contains events from both entities.
	assert.InDelta(t, 0.75, f.OverlapRatio, 1e-9)
	assert.Equal(t, 12, f.TotalEvents)
	assert.InDelta(t, 12.0/100, f.Confidence, 1e-9)
}

func TestSynchronizationNeedsTwoQualifyingEntities(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := map[string][]time.Time{
		"a": {from, from.Add(time.Hour), from.Add(2 * time.Hour), from.Add(3 * time.Hour), from.Add(4 * time.Hour)},
		"b": {from}, // below the event floor
	}
	assert.Nil(t, synchronization(events, from, from.Add(24*time.Hour), 24))
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1.0, pearson([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, -1.0, pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-9)
	// Constant series correlate at zero.
	assert.Zero(t, pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
}

func TestCorrelationAtLag(t *testing.T) {
	a := []float64{0, 3, 0, 0, 3, 0, 0, 3, 0}
	b := []float64{0, 0, 0, 3, 0, 0, 3, 0, 0}
	// b repeats a's pattern two hours later.
	assert.InDelta(t, 1.0, correlationAtLag(a, b, 2), 1e-9)
	lag, r := bestLag(a, b, 4)
	assert.Equal(t, 2, lag)
	assert.InDelta(t, 1.0, r, 1e-9)
}
