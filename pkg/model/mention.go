package model

// Mention is an observation of an entity in a source record before it
// has been reconciled against the graph: a name plus whatever
// identifiers and location signals the source exposed.
type Mention struct {
	Name         string            `json:"name"`
	Type         EntityType        `json:"entity_type"`
	ExternalIDs  map[string]string `json:"external_ids,omitempty"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	Address      *Address          `json:"address,omitempty"`
	DirectorIDs  []string          `json:"director_ids,omitempty"` // known directors, for the shared-director signal
}

// Candidate is one resolver match: an existing node, an overall
// confidence, and the per-signal breakdown that produced it.
type Candidate struct {
	EntityID   string             `json:"entity_id"`
	Confidence float64            `json:"confidence"`
	Signals    map[string]float64 `json:"signals"`
	// OutDegree supports tie-breaking; populated by the resolver.
	OutDegree int `json:"-"`
}

// ResolveAction is the decision the resolver reached for a mention.
type ResolveAction string

const (
	ResolveAutoMerge ResolveAction = "auto_merge" // confidence >= 0.9
	ResolveReview    ResolveAction = "review"     // 0.7 <= confidence < 0.9
	ResolveDiscard   ResolveAction = "discard"    // confidence < 0.7
)

// Decision pairs the winning candidate (if any) with the action taken.
type Decision struct {
	Action    ResolveAction `json:"action"`
	Candidate *Candidate    `json:"candidate,omitempty"`
}
