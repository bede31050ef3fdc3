package resolve

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/jurisdiction"
	"github.com/civiclens/mitds/pkg/model"
)

// Signal weights, fixed at design time. They deliberately sum to 1.1;
// the combined score clamps to 1.0 rather than renormalizing, matching
// the historical scoring behavior.
const (
	weightIdentifier   = 0.5
	weightName         = 0.3
	weightJurisdiction = 0.1
	weightCity         = 0.05
	weightPostal       = 0.05
	weightDirector     = 0.1

	minNameSimilarity = 0.85
)

// Decision thresholds.
const (
	autoMergeThreshold = 0.9
	reviewThreshold    = 0.7
)

// identifierSignals are the external ids whose exact match
// short-circuits scoring at confidence 1.0.
var identifierSignals = []string{
	model.IDMetaPageID, model.IDEin, model.IDBn, model.IDCanadaCorpNum,
}

// Resolver scores mentions against current graph state.
type Resolver struct {
	store  graph.Store
	logger *slog.Logger
}

// NewResolver creates a resolver over the given graph store.
func NewResolver(store graph.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns candidates for a mention, best first. Ties at equal
// confidence break by strongest identifier signal, then by fewest
// outgoing edges (the less-polluted node wins).
func (r *Resolver) Resolve(ctx context.Context, mention *model.Mention) ([]*model.Candidate, error) {
	nodes, err := r.store.NodesByType(ctx, mention.Type)
	if err != nil {
		return nil, err
	}

	var candidates []*model.Candidate
	for _, node := range nodes {
		cand, err := r.score(ctx, mention, node)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			candidates = append(candidates, cand)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ai, bi := a.Signals["identifier"], b.Signals["identifier"]; ai != bi {
			return ai > bi
		}
		return a.OutDegree < b.OutDegree
	})
	return candidates, nil
}

// Decide applies the decision thresholds to the ranked candidates.
func (r *Resolver) Decide(candidates []*model.Candidate) model.Decision {
	if len(candidates) == 0 {
		return model.Decision{Action: model.ResolveDiscard}
	}
	best := candidates[0]
	switch {
	case best.Confidence >= autoMergeThreshold:
		return model.Decision{Action: model.ResolveAutoMerge, Candidate: best}
	case best.Confidence >= reviewThreshold:
		return model.Decision{Action: model.ResolveReview, Candidate: best}
	default:
		return model.Decision{Action: model.ResolveDiscard}
	}
}

func (r *Resolver) score(ctx context.Context, mention *model.Mention, node *model.Entity) (*model.Candidate, error) {
	signals := make(map[string]float64)

	// 1. Identifier match: any direct hit is conclusive.
	for _, idName := range identifierSignals {
		v := mention.ExternalIDs[idName]
		if v == "" {
			continue
		}
		if node.ExternalID(idName) == v {
			signals["identifier"] = weightIdentifier
			outDeg, err := r.store.OutDegree(ctx, node.ID)
			if err != nil {
				return nil, err
			}
			return &model.Candidate{
				EntityID:   node.ID,
				Confidence: 1.0,
				Signals:    signals,
				OutDegree:  outDeg,
			}, nil
		}
	}

	// 2. Fuzzy name match gates everything else.
	sim := TokenSortRatio(mention.Name, node.Name)
	if sim < minNameSimilarity {
		return nil, nil
	}
	score := weightName * sim
	signals["name"] = weightName * sim

	// 3. Jurisdiction.
	if mention.Jurisdiction != "" {
		nodeJur, _ := node.Properties["jurisdiction"].(string)
		if jurisdiction.Normalize(mention.Jurisdiction) == jurisdiction.Normalize(nodeJur) && nodeJur != "" {
			score += weightJurisdiction
			signals["jurisdiction"] = weightJurisdiction
		}
	}

	// 4. Address overlap.
	if mention.Address != nil && node.Address != nil {
		if mention.Address.City != "" && strings.EqualFold(mention.Address.City, node.Address.City) {
			score += weightCity
			signals["city"] = weightCity
		}
		if p := PostalPrefix(mention.Address.Postal); p != "" && p == PostalPrefix(node.Address.Postal) {
			score += weightPostal
			signals["postal"] = weightPostal
		}
	}

	// 5. Shared director against current graph state.
	if len(mention.DirectorIDs) > 0 {
		directors, err := r.store.Directors(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		if sharesAny(mention.DirectorIDs, directors) {
			score += weightDirector
			signals["shared_director"] = weightDirector
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	outDeg, err := r.store.OutDegree(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	return &model.Candidate{
		EntityID:   node.ID,
		Confidence: score,
		Signals:    signals,
		OutDegree:  outDeg,
	}, nil
}

func sharesAny(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
