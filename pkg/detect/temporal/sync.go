package temporal

import (
	"math"
	"sort"
	"time"
)

const (
	// minSyncEvents is the per-entity floor for synchronization scoring.
	minSyncEvents = 5
	// jsEpsilon smooths zero histogram bins before divergence.
	jsEpsilon = 1e-10
)

// SyncFinding summarizes hour-of-day synchronization across a group.
type SyncFinding struct {
	EntityIDs       []string `json:"entity_ids"`
	SyncScore       float64  `json:"sync_score"`
	AvgJSDivergence float64  `json:"avg_js_divergence"`
	OverlapRatio    float64  `json:"overlap_ratio"`
	Confidence      float64  `json:"confidence"`
	TotalEvents     int      `json:"total_events"`
}

// hourHistogram builds a normalized 24-bin hour-of-day distribution.
func hourHistogram(times []time.Time) []float64 {
	h := make([]float64, 24)
	if len(times) == 0 {
		return h
	}
	for _, t := range times {
		h[t.UTC().Hour()]++
	}
	total := float64(len(times))
	for i := range h {
		h[i] /= total
	}
	return h
}

// jsDivergence is the Jensen-Shannon divergence of two distributions
// with epsilon smoothing, in nats. It is 0 iff the smoothed inputs are
// identical and bounded above by ln 2.
func jsDivergence(p, q []float64) float64 {
	sp := smooth(p)
	sq := smooth(q)
	m := make([]float64, len(sp))
	for i := range sp {
		m[i] = (sp[i] + sq[i]) / 2
	}
	return (klDivergence(sp, m) + klDivergence(sq, m)) / 2
}

func smooth(p []float64) []float64 {
	out := make([]float64, len(p))
	total := 0.0
	for i, v := range p {
		out[i] = v + jsEpsilon
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func klDivergence(p, q []float64) float64 {
	var d float64
	for i := range p {
		if p[i] > 0 {
			d += p[i] * math.Log(p[i]/q[i])
		}
	}
	return d
}

// synchronization scores a group of entities with enough events each.
// Returns nil when fewer than two entities qualify.
func synchronization(events map[string][]time.Time, from, to time.Time, windowHours int) *SyncFinding {
	if windowHours <= 0 {
		windowHours = 24
	}
	var ids []string
	total := 0
	for id, times := range events {
		if len(times) >= minSyncEvents {
			ids = append(ids, id)
			total += len(times)
		}
	}
	if len(ids) < 2 {
		return nil
	}
	sort.Strings(ids)

	histograms := make([][]float64, len(ids))
	for i, id := range ids {
		histograms[i] = hourHistogram(events[id])
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sum += jsDivergence(histograms[i], histograms[j])
			pairs++
		}
	}
	avg := sum / float64(pairs)

	return &SyncFinding{
		EntityIDs:       ids,
		SyncScore:       math.Max(0, 1-avg/math.Ln2),
		AvgJSDivergence: avg,
		OverlapRatio:    overlapRatio(events, ids, from, to, windowHours),
		Confidence:      math.Min(1, float64(total)/(float64(len(ids))*50)),
		TotalEvents:     total,
	}
}

// overlapRatio is the fraction of fixed-size windows in [from, to] that
// contain events from at least two of the entities.
func overlapRatio(events map[string][]time.Time, ids []string, from, to time.Time, windowHours int) float64 {
	window := time.Duration(windowHours) * time.Hour
	n := int(to.Sub(from)/window) + 1
	if n < 1 {
		n = 1
	}
	perWindow := make([]map[string]bool, n)
	for _, id := range ids {
		for _, t := range events[id] {
			idx := int(t.Sub(from) / window)
			if idx < 0 || idx >= n {
				continue
			}
			if perWindow[idx] == nil {
				perWindow[idx] = make(map[string]bool)
			}
			perWindow[idx][id] = true
		}
	}
	overlapping := 0
	for _, w := range perWindow {
		if len(w) >= 2 {
			overlapping++
		}
	}
	return float64(overlapping) / float64(n)
}
