package temporal

import (
	"math"
	"math/rand"
	"time"
)

const (
	// minLeadLagEvents is the per-entity floor for pairwise analysis.
	minLeadLagEvents = 10
	// corrThreshold is the minimum |Pearson r| for a candidate pair.
	corrThreshold = 0.3
	// pThreshold bounds the permutation p-value of a significant pair.
	pThreshold = 0.05
)

// LeadLagFinding is one significant pairwise lead-lag relationship.
type LeadLagFinding struct {
	LeaderID    string  `json:"leader_id"`
	FollowerID  string  `json:"follower_id"`
	LagMinutes  float64 `json:"lag_minutes"`
	Correlation float64 `json:"correlation"`
	PValue      float64 `json:"p_value"`
}

// hourlySeries buckets event times into hourly counts over [from, to].
func hourlySeries(times []time.Time, from, to time.Time) []float64 {
	n := int(to.Sub(from).Hours()) + 1
	if n < 1 {
		n = 1
	}
	series := make([]float64, n)
	for _, t := range times {
		idx := int(t.Sub(from).Hours())
		if idx >= 0 && idx < n {
			series[idx]++
		}
	}
	return series
}

// pearson returns the correlation of two equal-length series, 0.0 when
// either is constant.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// correlationAtLag correlates a against b shifted by lag hours. A
// positive lag means a leads: b's series at t tracks a's at t−lag.
func correlationAtLag(a, b []float64, lag int) float64 {
	n := len(a)
	shift := lag
	if shift < 0 {
		shift = -shift
	}
	if shift >= n {
		return 0
	}
	if lag >= 0 {
		return pearson(a[:n-shift], b[shift:])
	}
	return pearson(a[shift:], b[:n-shift])
}

// bestLag scans [−maxLag, +maxLag] and returns the lag with the largest
// absolute correlation.
func bestLag(a, b []float64, maxLag int) (int, float64) {
	lag, best := 0, 0.0
	for l := -maxLag; l <= maxLag; l++ {
		r := correlationAtLag(a, b, l)
		if math.Abs(r) > math.Abs(best) {
			lag, best = l, r
		}
	}
	return lag, best
}

// permutationP estimates the p-value of the observed correlation by
// shuffling one series and re-correlating at the same lag.
func permutationP(a, b []float64, lag int, observed float64, permutations int, rng *rand.Rand) float64 {
	if permutations <= 0 {
		permutations = 1000
	}
	shuffled := make([]float64, len(b))
	copy(shuffled, b)
	atLeast := 0
	for i := 0; i < permutations; i++ {
		rng.Shuffle(len(shuffled), func(x, y int) {
			shuffled[x], shuffled[y] = shuffled[y], shuffled[x]
		})
		if math.Abs(correlationAtLag(a, shuffled, lag)) >= math.Abs(observed) {
			atLeast++
		}
	}
	return float64(atLeast) / float64(permutations)
}

// analyzePair checks one entity pair for a significant lead-lag
// relationship. aID's series leads on a positive lag.
func analyzePair(aID, bID string, a, b []float64, maxLagHours, permutations int, rng *rand.Rand) *LeadLagFinding {
	lag, r := bestLag(a, b, maxLagHours)
	if math.Abs(r) <= corrThreshold {
		return nil
	}
	p := permutationP(a, b, lag, r, permutations, rng)
	if p >= pThreshold {
		return nil
	}
	f := &LeadLagFinding{
		LagMinutes:  math.Abs(float64(lag)) * 60,
		Correlation: r,
		PValue:      p,
	}
	if lag >= 0 {
		f.LeaderID, f.FollowerID = aID, bID
	} else {
		f.LeaderID, f.FollowerID = bID, aID
	}
	return f
}
