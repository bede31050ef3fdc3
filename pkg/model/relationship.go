package model

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType labels a relationship between two nodes.
type EdgeType string

const (
	EdgeFundedBy        EdgeType = "FUNDED_BY"
	EdgeDirectorOf      EdgeType = "DIRECTOR_OF"
	EdgeEmployedBy      EdgeType = "EMPLOYED_BY"
	EdgeOwns            EdgeType = "OWNS"
	EdgeSponsoredBy     EdgeType = "SPONSORED_BY"
	EdgeSharedInfra     EdgeType = "SHARED_INFRA"
	EdgeLobbiesFor      EdgeType = "LOBBIES_FOR"
	EdgeLobbied         EdgeType = "LOBBIED"
	EdgeBeneficialOwner EdgeType = "BENEFICIAL_OWNER_OF"
	EdgeContributedTo   EdgeType = "CONTRIBUTED_TO"
	EdgeRegisteredFor   EdgeType = "REGISTERED_FOR"
	EdgeAdvertisedOn    EdgeType = "ADVERTISED_ON"
	EdgeLitigatedWith   EdgeType = "LITIGATED_WITH"
	EdgeSecuredBy       EdgeType = "SECURED_BY"
)

// coreEdgeProperties names the canonical attribute keys each edge type
// carries when its source discloses the value. Adapters must use these
// exact keys so downstream queries see a single vocabulary.
var coreEdgeProperties = map[EdgeType][]string{
	EdgeFundedBy:        {"amount", "currency", "fiscal_year", "grant_purpose"},
	EdgeDirectorOf:      {"title", "compensation", "hours_per_week"},
	EdgeEmployedBy:      {"title", "compensation", "hours_per_week"},
	EdgeOwns:            {"ownership_percentage", "share_class", "filing_accession", "form_type", "filing_date"},
	EdgeSponsoredBy:     {"spend_lower", "spend_upper", "currency", "country"},
	EdgeSharedInfra:     {"signals", "total_score", "sharing_category"},
	EdgeLobbiesFor:      {"registration_id", "subject_matters", "jurisdiction"},
	EdgeLobbied:         {"registration_id", "subject_matters", "jurisdiction"},
	EdgeBeneficialOwner: {"control_description"},
	EdgeContributedTo:   {"amount", "contributor_class", "jurisdiction", "date_received"},
}

// CoreProperties returns the canonical attribute keys for an edge type.
func CoreProperties(t EdgeType) []string { return coreEdgeProperties[t] }

// Undirected reports whether the edge type has undirected semantics:
// an upsert of (a, b) and an upsert of (b, a) refer to the same edge.
func (t EdgeType) Undirected() bool {
	return t == EdgeSharedInfra
}

// Relationship is a typed, temporal, evidence-linked edge.
// A nil ValidTo means the relationship is current (open-ended).
type Relationship struct {
	ID          string         `json:"id"`
	Type        EdgeType       `json:"type"`
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	ValidFrom   *time.Time     `json:"valid_from,omitempty"`
	ValidTo     *time.Time     `json:"valid_to,omitempty"`
	Confidence  float64        `json:"confidence"`
	EvidenceIDs []string       `json:"evidence_ids,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// NewRelationship creates an edge with a fresh id between two nodes.
func NewRelationship(typ EdgeType, sourceID, targetID string) *Relationship {
	now := time.Now().UTC()
	return &Relationship{
		ID:         uuid.New().String(),
		Type:       typ,
		SourceID:   sourceID,
		TargetID:   targetID,
		Confidence: 1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
		Properties: make(map[string]any),
	}
}

// ValidAt reports whether the edge is valid at t. Nil bounds are open.
func (r *Relationship) ValidAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && t.After(*r.ValidTo) {
		return false
	}
	return true
}

// InfraSignal is one shared technical attribute between two domains,
// carried on SHARED_INFRA edges and infrastructure match results.
type InfraSignal struct {
	SignalType string  `json:"signal_type"`
	Value      string  `json:"value"`
	Weight     float64 `json:"weight"`
}
