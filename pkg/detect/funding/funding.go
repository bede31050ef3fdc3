// Package funding detects groups of entities that share multiple common
// funders. Clusters are built by union-find over recipient pairs that
// exceed the shared-funder threshold.
package funding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
)

// Options narrow the funding tuples considered and set the clustering
// thresholds.
type Options struct {
	EntityType model.EntityType // recipient type; empty matches all
	FiscalYear int              // 0 matches all
	MinAmount  float64

	// MinSharedFunders is the minimum number of distinct common funders
	// for a recipient pair to be linked. Zero means the default of 2.
	MinSharedFunders int
	// MinClusterSize discards clusters with fewer members. Zero means
	// the default of 2.
	MinClusterSize int
}

func (o Options) sharedFunders() int {
	if o.MinSharedFunders <= 0 {
		return 2
	}
	return o.MinSharedFunders
}

func (o Options) clusterSize() int {
	if o.MinClusterSize <= 0 {
		return 2
	}
	return o.MinClusterSize
}

// Cluster is one detected group of co-funded entities.
type Cluster struct {
	Members       []string `json:"members"` // entity ids, sorted
	SharedFunders []string `json:"shared_funders"`
	TotalFunding  float64  `json:"total_funding"`
	Score         float64  `json:"score"`
	Confidence    float64  `json:"confidence"`
	Evidence      string   `json:"evidence"`
}

// SharedFunder summarizes one funder across the filtered tuples.
type SharedFunder struct {
	FunderID       string  `json:"funder_id"`
	FunderName     string  `json:"funder_name"`
	RecipientCount int     `json:"recipient_count"`
	TotalAmount    float64 `json:"total_amount"`
	// FundingConcentration is the share of the funder's overall giving
	// that lands on the filtered recipients.
	FundingConcentration float64 `json:"funding_concentration"`
	YearsActive          []int   `json:"years_active"`
}

// Detector finds shared-funder clusters in the graph.
type Detector struct {
	graph  graph.Store
	logger *slog.Logger
}

// New creates a funding-cluster detector.
func New(g graph.Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{graph: g, logger: logger}
}

// Detect returns co-funding clusters ordered by score descending.
func (d *Detector) Detect(ctx context.Context, opts Options) ([]Cluster, error) {
	tuples, err := d.graph.FundingTuples(ctx, graph.FundingFilter{
		EntityType: opts.EntityType,
		FiscalYear: opts.FiscalYear,
		MinAmount:  opts.MinAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("funding tuples: %w", err)
	}

	funders := make(map[string]map[string]bool) // recipient -> funder set
	amounts := make(map[string]float64)         // recipient -> total received
	for _, t := range tuples {
		if funders[t.RecipientID] == nil {
			funders[t.RecipientID] = make(map[string]bool)
		}
		funders[t.RecipientID][t.FunderID] = true
		amounts[t.RecipientID] += t.Amount
	}

	recipients := make([]string, 0, len(funders))
	for r := range funders {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	uf := newUnionFind(recipients)
	minShared := opts.sharedFunders()
	for i := 0; i < len(recipients); i++ {
		for j := i + 1; j < len(recipients); j++ {
			if sharedCount(funders[recipients[i]], funders[recipients[j]]) >= minShared {
				uf.union(recipients[i], recipients[j])
			}
		}
	}

	groups := make(map[string][]string)
	for _, r := range recipients {
		root := uf.find(r)
		groups[root] = append(groups[root], r)
	}

	var clusters []Cluster
	for _, members := range groups {
		if len(members) < opts.clusterSize() {
			continue
		}
		sort.Strings(members)
		c, err := d.buildCluster(ctx, members, funders, amounts)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Score != clusters[j].Score {
			return clusters[i].Score > clusters[j].Score
		}
		return strings.Join(clusters[i].Members, ",") < strings.Join(clusters[j].Members, ",")
	})

	d.logger.Info("funding clusters detected",
		"tuples", len(tuples),
		"recipients", len(recipients),
		"clusters", len(clusters))
	return clusters, nil
}

func (d *Detector) buildCluster(ctx context.Context, members []string, funders map[string]map[string]bool, amounts map[string]float64) (Cluster, error) {
	c := Cluster{Members: members}

	shared := make(map[string]int)
	for _, m := range members {
		c.TotalFunding += amounts[m]
		for f := range funders[m] {
			shared[f]++
		}
	}
	for f, n := range shared {
		if n >= 2 {
			c.SharedFunders = append(c.SharedFunders, f)
		}
	}
	sort.Strings(c.SharedFunders)

	c.Score = 0.4 * minf(float64(len(members))/10, 1)
	if c.TotalFunding > 0 {
		c.Score += 0.3
	}
	c.Score += 0.3
	c.Score = clamp01(c.Score)
	c.Confidence = minf(c.Score+0.2, 1.0)

	evidence, err := d.summarize(ctx, c)
	if err != nil {
		return Cluster{}, err
	}
	c.Evidence = evidence
	return c, nil
}

// summarize renders the human-readable cluster description: up to three
// member names, the shared funders, and the funding total.
func (d *Detector) summarize(ctx context.Context, c Cluster) (string, error) {
	names := make([]string, 0, 3)
	for _, id := range c.Members {
		if len(names) == 3 {
			break
		}
		names = append(names, d.nodeName(ctx, id))
	}
	sample := strings.Join(names, ", ")
	if rest := len(c.Members) - len(names); rest > 0 {
		sample += fmt.Sprintf(", and %d others", rest)
	}

	funderNames := make([]string, 0, len(c.SharedFunders))
	for _, id := range c.SharedFunders {
		funderNames = append(funderNames, d.nodeName(ctx, id))
	}
	return fmt.Sprintf("Cluster of %d entities (%s) sharing funding from %s. Total: $%.2f",
		len(c.Members), sample, strings.Join(funderNames, ", "), c.TotalFunding), nil
}

func (d *Detector) nodeName(ctx context.Context, id string) string {
	node, err := d.graph.GetNode(ctx, id)
	if err != nil {
		return id
	}
	return node.Name
}

// SharedFunders summarizes funders across the filtered tuples, ordered
// by recipient count then total amount.
func (d *Detector) SharedFunders(ctx context.Context, opts Options) ([]SharedFunder, error) {
	filtered, err := d.graph.FundingTuples(ctx, graph.FundingFilter{
		EntityType: opts.EntityType,
		FiscalYear: opts.FiscalYear,
		MinAmount:  opts.MinAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("funding tuples: %w", err)
	}
	// Concentration is measured against the funder's unfiltered giving.
	all, err := d.graph.FundingTuples(ctx, graph.FundingFilter{})
	if err != nil {
		return nil, fmt.Errorf("funding tuples: %w", err)
	}
	overall := make(map[string]float64)
	for _, t := range all {
		overall[t.FunderID] += t.Amount
	}

	type agg struct {
		recipients map[string]bool
		total      float64
		years      map[int]bool
	}
	byFunder := make(map[string]*agg)
	for _, t := range filtered {
		a := byFunder[t.FunderID]
		if a == nil {
			a = &agg{recipients: make(map[string]bool), years: make(map[int]bool)}
			byFunder[t.FunderID] = a
		}
		a.recipients[t.RecipientID] = true
		a.total += t.Amount
		if t.FiscalYear != 0 {
			a.years[t.FiscalYear] = true
		}
	}

	out := make([]SharedFunder, 0, len(byFunder))
	for id, a := range byFunder {
		sf := SharedFunder{
			FunderID:       id,
			FunderName:     d.nodeName(ctx, id),
			RecipientCount: len(a.recipients),
			TotalAmount:    a.total,
		}
		if overall[id] > 0 {
			sf.FundingConcentration = a.total / overall[id]
		}
		for y := range a.years {
			sf.YearsActive = append(sf.YearsActive, y)
		}
		sort.Ints(sf.YearsActive)
		out = append(out, sf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecipientCount != out[j].RecipientCount {
			return out[i].RecipientCount > out[j].RecipientCount
		}
		if out[i].TotalAmount != out[j].TotalAmount {
			return out[i].TotalAmount > out[j].TotalAmount
		}
		return out[i].FunderID < out[j].FunderID
	})
	return out, nil
}

func sharedCount(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for f := range a {
		if b[f] {
			n++
		}
	}
	return n
}

// unionFind is a path-compressed disjoint-set over string ids.
type unionFind struct {
	parent map[string]string
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (u *unionFind) find(id string) string {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
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
