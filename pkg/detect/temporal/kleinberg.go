package temporal

import (
	"math"
	"sort"
	"time"
)

const (
	// burstScale is Kleinberg's state scaling factor s.
	burstScale = 2.0
	// burstGamma is the state-increase transition cost.
	burstGamma = 1.0
	// minGapMinutes floors inter-arrival gaps so coincident timestamps
	// do not produce infinite rates.
	minGapMinutes = 0.1
)

// Burst is a contiguous run of events above the base rate.
type Burst struct {
	EntityID      string    `json:"entity_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Level         int       `json:"level"`
	EventCount    int       `json:"event_count"`
	DurationHours float64   `json:"duration_hours"`
}

// detectBursts runs Kleinberg's two-plus-state automaton over one
// entity's event times. Streams with fewer than two events yield no
// bursts.
func detectBursts(entityID string, times []time.Time, minBurstEvents int) []Burst {
	if len(times) < 2 {
		return nil
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, len(sorted)-1)
	maxGap := 0.0
	for i := 1; i < len(sorted); i++ {
		g := sorted[i].Sub(sorted[i-1]).Minutes()
		if g < minGapMinutes {
			g = minGapMinutes
		}
		gaps[i-1] = g
		if g > maxGap {
			maxGap = g
		}
	}

	windowMinutes := sorted[len(sorted)-1].Sub(sorted[0]).Minutes()
	baseGap := windowMinutes / float64(len(gaps))
	if baseGap < minGapMinutes {
		baseGap = minGapMinutes
	}

	k := int(math.Ceil(1+math.Log(maxGap/baseGap)/math.Log(burstScale))) + 1
	if k < 2 {
		k = 2
	}
	// State j emits gaps at rate s^j over the mean gap; state 0 is the
	// base rate.
	rate := func(j int) float64 { return math.Pow(burstScale, float64(j)) / baseGap }

	states := viterbi(gaps, k, rate)
	return extractBursts(entityID, sorted, states, minBurstEvents)
}

// viterbi finds the minimum-cost state sequence: emission cost
// r_j·g − ln(r_j) per gap, transition cost γ·max(0, j'−j).
func viterbi(gaps []float64, k int, rate func(int) float64) []int {
	cost := make([]float64, k)
	prev := make([][]int, len(gaps))
	for j := 1; j < k; j++ {
		cost[j] = burstGamma * float64(j)
	}

	for i, g := range gaps {
		next := make([]float64, k)
		prev[i] = make([]int, k)
		for j := 0; j < k; j++ {
			best := math.Inf(1)
			bestFrom := 0
			for from := 0; from < k; from++ {
				c := cost[from] + burstGamma*math.Max(0, float64(j-from))
				if c < best {
					best = c
					bestFrom = from
				}
			}
			r := rate(j)
			next[j] = best + r*g - math.Log(r)
			prev[i][j] = bestFrom
		}
		cost = next
	}

	states := make([]int, len(gaps))
	final := 0
	for j := 1; j < k; j++ {
		if cost[j] < cost[final] {
			final = j
		}
	}
	states[len(gaps)-1] = final
	for i := len(gaps) - 1; i > 0; i-- {
		states[i-1] = prev[i][states[i]]
	}
	return states
}

// extractBursts converts the state sequence over gaps into bursts: a
// run of r consecutive elevated gaps spans r+1 events.
func extractBursts(entityID string, times []time.Time, states []int, minBurstEvents int) []Burst {
	if minBurstEvents <= 0 {
		minBurstEvents = 3
	}
	var bursts []Burst
	i := 0
	for i < len(states) {
		if states[i] == 0 {
			i++
			continue
		}
		j := i
		level := 0
		for j < len(states) && states[j] > 0 {
			if states[j] > level {
				level = states[j]
			}
			j++
		}
		eventCount := j - i + 1
		if eventCount >= minBurstEvents {
			start, end := times[i], times[j]
			bursts = append(bursts, Burst{
				EntityID:      entityID,
				Start:         start,
				End:           end,
				Level:         level,
				EventCount:    eventCount,
				DurationHours: end.Sub(start).Hours(),
			})
		}
		i = j
	}
	return bursts
}
