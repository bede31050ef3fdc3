package ingest

import (
	"context"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

// Pipeline bundles what every adapter writes through: the graph
// writer, the resolver, the evidence recorder, and the rate-limited
// HTTP client for the adapter's service.
type Pipeline struct {
	Writer   *graph.Writer
	Graph    graph.Store
	Resolver *resolve.Resolver
	Evidence *provenance.Recorder
	Client   *Client
}

// NewPipeline assembles a pipeline for one adapter.
func NewPipeline(g graph.Store, writer *graph.Writer, resolver *resolve.Resolver, evidence *provenance.Recorder, client *Client) *Pipeline {
	return &Pipeline{
		Writer:   writer,
		Graph:    g,
		Resolver: resolver,
		Evidence: evidence,
		Client:   client,
	}
}

// MentionOf builds the resolver input for an observed entity.
func MentionOf(obs *model.Entity) *model.Mention {
	m := &model.Mention{
		Name:        obs.Name,
		Type:        obs.Type,
		ExternalIDs: obs.ExternalIDs,
		Address:     obs.Address,
	}
	if j, ok := obs.Properties["jurisdiction"].(string); ok {
		m.Jurisdiction = j
	}
	return m
}

// UpsertResolved reconciles an observation through the resolver before
// writing. Observations carrying a merge-key identifier go straight to
// the writer (the identifier is authoritative). Otherwise the resolver
// ranks candidates: auto-merge folds into the winner; review inserts a
// new node flagged for human review with the near-miss recorded;
// discard inserts a new node.
func (p *Pipeline) UpsertResolved(ctx context.Context, rw *graph.RecordWriter, obs *model.Entity) (graph.NodeResult, error) {
	if hasKeyIdentifier(obs) {
		return rw.UpsertNode(ctx, obs)
	}

	decision, err := p.decide(ctx, obs)
	if err != nil {
		return graph.NodeResult{}, err
	}
	switch decision.Action {
	case model.ResolveAutoMerge:
		existing, err := p.Graph.GetNode(ctx, decision.Candidate.EntityID)
		if err != nil {
			return graph.NodeResult{}, err
		}
		return rw.MergeNode(ctx, existing, obs)
	case model.ResolveReview:
		if obs.Properties == nil {
			obs.Properties = make(map[string]any)
		}
		obs.Properties["needs_review"] = true
		obs.Properties["review_candidate"] = decision.Candidate.EntityID
		obs.Properties["review_confidence"] = decision.Candidate.Confidence
		res, err := rw.UpsertNode(ctx, obs)
		res.NeedsReview = true
		return res, err
	default:
		return rw.UpsertNode(ctx, obs)
	}
}

func (p *Pipeline) decide(ctx context.Context, obs *model.Entity) (model.Decision, error) {
	if p.Resolver == nil {
		return model.Decision{Action: model.ResolveDiscard}, nil
	}
	candidates, err := p.Resolver.Resolve(ctx, MentionOf(obs))
	if err != nil {
		return model.Decision{}, err
	}
	return p.Resolver.Decide(candidates), nil
}

func hasKeyIdentifier(obs *model.Entity) bool {
	for _, idName := range graph.NodeKeyIdentifiers(obs.Type) {
		if obs.ExternalID(idName) != "" {
			return true
		}
	}
	if obs.Type == model.EntityAd {
		return obs.ExternalID("platform_ad_key") != ""
	}
	return false
}

// RecordEvidence stores the raw payload and attaches the resulting
// evidence row to the record's transaction, returning its id for edge
// references.
func (p *Pipeline) RecordEvidence(ctx context.Context, rw *graph.RecordWriter, req provenance.RecordRequest) (string, error) {
	ev, err := p.Evidence.Record(ctx, req)
	if err != nil {
		return "", err
	}
	if err := rw.AddEvidence(ctx, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}
