package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBurstsFastThenSlow(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 10; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Minute))
	}
	slow := times[len(times)-1]
	for i := 1; i <= 10; i++ {
		times = append(times, slow.Add(time.Duration(i)*time.Hour))
	}

	bursts := detectBursts("outlet-a", times, 3)
	require.NotEmpty(t, bursts)

	first := bursts[0]
	assert.Equal(t, "outlet-a", first.EntityID)
	assert.GreaterOrEqual(t, first.Level, 1)
	assert.GreaterOrEqual(t, first.EventCount, 3)
	assert.Equal(t, base, first.Start)
	// The burst ends inside the fast block; the hourly tail is not bursty.
	assert.False(t, first.End.After(slow))
	for _, b := range bursts {
		assert.False(t, b.Start.After(slow))
	}
}

func TestDetectBurstsDegenerateStreams(t *testing.T) {
	assert.Empty(t, detectBursts("x", nil, 3))
	assert.Empty(t, detectBursts("x", []time.Time{time.Now()}, 3))

	// Two coincident timestamps floor the gap instead of dividing by zero.
	now := time.Now()
	assert.NotPanics(t, func() {
		detectBursts("x", []time.Time{now, now}, 3)
	})
}

func TestDetectBurstsUniformStream(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 30; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Hour))
	}
	assert.Empty(t, detectBursts("x", times, 3))
}

func TestExtractBurstsRespectsMinEvents(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute)}

	// One elevated gap spans two events, below the threshold of 3.
	assert.Empty(t, extractBursts("x", times, []int{1, 0, 0}, 3))
	// Two consecutive elevated gaps span three events.
	bursts := extractBursts("x", times, []int{1, 2, 0}, 3)
	require.Len(t, bursts, 1)
	assert.Equal(t, 3, bursts[0].EventCount)
	assert.Equal(t, 2, bursts[0].Level)
	assert.Equal(t, base, bursts[0].Start)
	assert.Equal(t, base.Add(2*time.Minute), bursts[0].End)
}
