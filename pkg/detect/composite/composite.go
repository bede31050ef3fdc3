// Package composite fuses detector signals into one influence-operation
// score. Categories are weighted, correlated cross-category evidence is
// boosted, and gating keeps single-category findings from being flagged.
package composite

import (
	"fmt"
	"sort"
	"strings"
)

// Category is one detector family.
type Category string

const (
	CategoryTemporal       Category = "temporal"
	CategoryFunding        Category = "funding"
	CategoryInfrastructure Category = "infrastructure"
)

// categoryWeights is the fixed convex mix across categories.
var categoryWeights = map[Category]float64{
	CategoryTemporal:       0.3,
	CategoryFunding:        0.4,
	CategoryInfrastructure: 0.3,
}

// signalCategories maps signal types onto categories. Unknown types are
// ignored with a validation message.
var signalCategories = map[string]Category{
	"TEMPORAL_COORDINATION":  CategoryTemporal,
	"BURST_PATTERN":          CategoryTemporal,
	"LEAD_LAG":               CategoryTemporal,
	"SYNCHRONIZED_POSTING":   CategoryTemporal,
	"SHARED_FUNDER":          CategoryFunding,
	"FUNDING_CLUSTER":        CategoryFunding,
	"INFRASTRUCTURE_SHARING": CategoryInfrastructure,
	"SHARED_INFRA":           CategoryInfrastructure,
}

// Signal is one detector finding entering the composite score.
type Signal struct {
	Type       string   `json:"type"`
	Strength   float64  `json:"strength"`   // [0,1]
	Confidence float64  `json:"confidence"` // [0,1]
	EntityIDs  []string `json:"entity_ids"`
}

// Score is the fused result.
type Score struct {
	Raw               float64              `json:"raw_score"`
	Adjusted          float64              `json:"adjusted_score"`
	IsFlagged         bool                 `json:"is_flagged"`
	ConfidenceLower   float64              `json:"confidence_lower"`
	ConfidenceUpper   float64              `json:"confidence_upper"`
	CategoryStrengths map[Category]float64 `json:"category_strengths"`
	Validation        []string             `json:"validation,omitempty"`
}

// Compute fuses the signals. With no recognizable signals the score is
// zero and unflagged.
func Compute(signals []Signal) Score {
	s := Score{CategoryStrengths: make(map[Category]float64)}

	byCategory := make(map[Category][]Signal)
	for _, sig := range signals {
		cat, ok := signalCategories[sig.Type]
		if !ok {
			s.Validation = append(s.Validation, fmt.Sprintf("unknown signal type %q ignored", sig.Type))
			continue
		}
		byCategory[cat] = append(byCategory[cat], sig)
	}

	// Per-category strength is the best strength·confidence product.
	for cat, sigs := range byCategory {
		best := 0.0
		for _, sig := range sigs {
			if v := clamp01(sig.Strength) * clamp01(sig.Confidence); v > best {
				best = v
			}
		}
		s.CategoryStrengths[cat] = best
		s.Raw += categoryWeights[cat] * best
	}

	s.Adjusted = s.Raw * (1 + correlationBoost(byCategory))
	if s.Adjusted > 1 {
		s.Adjusted = 1
	}

	s.IsFlagged = gate(byCategory, &s)
	s.confidenceBand(byCategory)
	return s
}

// correlationBoost rewards independent categories that implicate the
// same entity set: +5% per additional correlated category, capped at
// +10%.
func correlationBoost(byCategory map[Category][]Signal) float64 {
	sets := make(map[Category]map[string]bool)
	for cat, sigs := range byCategory {
		sets[cat] = make(map[string]bool)
		for _, sig := range sigs {
			sets[cat][entityKey(sig.EntityIDs)] = true
		}
	}

	cats := make([]Category, 0, len(sets))
	for cat := range sets {
		cats = append(cats, cat)
	}
	correlated := make(map[Category]bool)
	for i := 0; i < len(cats); i++ {
		for j := i + 1; j < len(cats); j++ {
			if shareEntitySet(sets[cats[i]], sets[cats[j]]) {
				correlated[cats[i]] = true
				correlated[cats[j]] = true
			}
		}
	}
	if len(correlated) < 2 {
		return 0
	}
	boost := 0.05 * float64(len(correlated)-1)
	if boost > 0.10 {
		boost = 0.10
	}
	return boost
}

func shareEntitySet(a, b map[string]bool) bool {
	for key := range a {
		if key != "" && b[key] {
			return true
		}
	}
	return false
}

func entityKey(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// gate applies the flagging rule: at least one category with two or
// more distinct signals, and at least two categories present.
func gate(byCategory map[Category][]Signal, s *Score) bool {
	multi := false
	for cat, sigs := range byCategory {
		if len(sigs) >= 2 {
			multi = true
		} else {
			s.Validation = append(s.Validation, fmt.Sprintf("category %s has only one signal", cat))
		}
	}
	sort.Strings(s.Validation)

	if len(byCategory) < 2 {
		s.Validation = append(s.Validation, "requires signals from at least two categories")
		return false
	}
	if !multi {
		s.Validation = append(s.Validation, "no category has multiple corroborating signals")
		return false
	}
	return true
}

// confidenceBand derives [lower, upper] from the spread of signal
// confidences around the adjusted score.
func (s *Score) confidenceBand(byCategory map[Category][]Signal) {
	minConf, maxConf := 1.0, 0.0
	any := false
	for _, sigs := range byCategory {
		for _, sig := range sigs {
			c := clamp01(sig.Confidence)
			if c < minConf {
				minConf = c
			}
			if c > maxConf {
				maxConf = c
			}
			any = true
		}
	}
	if !any {
		return
	}
	s.ConfidenceLower = s.Adjusted * minConf
	s.ConfidenceUpper = s.Adjusted*maxConf + 0.1
	if s.ConfidenceUpper > 1 {
		s.ConfidenceUpper = 1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
