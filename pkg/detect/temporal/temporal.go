// Package temporal detects coordinated posting and ad-delivery timing:
// Kleinberg bursts per entity, pairwise lead-lag with a permutation
// test, and hour-of-day synchronization across the group.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/store"
)

// Options tune one detection pass. Zero values take the documented
// defaults.
type Options struct {
	From time.Time
	To   time.Time

	MinBurstEvents  int   // default 3
	MaxLagHours     int   // default 24
	SyncWindowHours int   // default 24
	Permutations    int   // default 1000
	Seed            int64 // permutation rng seed; 0 seeds from the window start
}

func (o Options) withDefaults() Options {
	if o.MinBurstEvents <= 0 {
		o.MinBurstEvents = 3
	}
	if o.MaxLagHours <= 0 {
		o.MaxLagHours = 24
	}
	if o.SyncWindowHours <= 0 {
		o.SyncWindowHours = 24
	}
	if o.Permutations <= 0 {
		o.Permutations = 1000
	}
	if o.Seed == 0 {
		o.Seed = o.From.Unix()
	}
	return o
}

// Result is one detection pass over a set of entities.
type Result struct {
	Bursts        []Burst          `json:"bursts"`
	LeadLag       []LeadLagFinding `json:"lead_lag"`
	Sync          *SyncFinding     `json:"sync,omitempty"`
	Score         float64          `json:"score"`
	IsCoordinated bool             `json:"is_coordinated"`
	Explanation   string           `json:"explanation"`
}

// Detector reads the timing-event series and scores coordination.
type Detector struct {
	events store.EventStore
	filter *HardNegativeFilter
	logger *slog.Logger
}

// New creates a temporal detector. filter may be nil to disable the
// hard-negative pass.
func New(events store.EventStore, filter *HardNegativeFilter, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{events: events, filter: filter, logger: logger}
}

// Detect analyzes the entities' events inside [opts.From, opts.To].
// Entities with no events contribute nothing; an empty window yields a
// zero score.
func (d *Detector) Detect(ctx context.Context, entityIDs []string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	events, err := d.events.Window(ctx, entityIDs, opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("event window: %w", err)
	}
	events = d.filter.Apply(events, d.logger)

	byEntity := make(map[string][]time.Time)
	for _, ev := range events {
		byEntity[ev.EntityID] = append(byEntity[ev.EntityID], ev.Timestamp)
	}

	res := &Result{}

	burstEntities := make(map[string]bool)
	for _, id := range sortedKeys(byEntity) {
		bursts := detectBursts(id, byEntity[id], opts.MinBurstEvents)
		if len(bursts) > 0 {
			burstEntities[id] = true
		}
		res.Bursts = append(res.Bursts, bursts...)
	}

	res.LeadLag = d.leadLagPairs(byEntity, opts)
	res.Sync = synchronization(byEntity, opts.From, opts.To, opts.SyncWindowHours)

	res.Score = overallScore(len(byEntity), len(burstEntities), len(res.LeadLag), res.Sync)
	res.IsCoordinated = res.Score > 0.5
	res.Explanation = explain(len(byEntity), len(burstEntities), res)

	d.logger.Info("temporal detection complete",
		"entities", len(byEntity),
		"events", len(events),
		"bursts", len(res.Bursts),
		"lead_lag_pairs", len(res.LeadLag),
		"score", res.Score)
	return res, nil
}

func (d *Detector) leadLagPairs(byEntity map[string][]time.Time, opts Options) []LeadLagFinding {
	var ids []string
	for id, times := range byEntity {
		if len(times) >= minLeadLagEvents {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rng := rand.New(rand.NewSource(opts.Seed))
	var findings []LeadLagFinding
	for i := 0; i < len(ids); i++ {
		a := hourlySeries(byEntity[ids[i]], opts.From, opts.To)
		for j := i + 1; j < len(ids); j++ {
			b := hourlySeries(byEntity[ids[j]], opts.From, opts.To)
			if f := analyzePair(ids[i], ids[j], a, b, opts.MaxLagHours, opts.Permutations, rng); f != nil {
				findings = append(findings, *f)
			}
		}
	}
	return findings
}

// overallScore mixes the three components; absent components score 0.
func overallScore(entities, burstEntities, sigPairs int, sync *SyncFinding) float64 {
	var score float64
	if entities > 0 {
		score += 0.3 * float64(burstEntities) / float64(entities)
	}
	score += 0.3 * math.Min(1, float64(sigPairs)/3)
	if sync != nil {
		score += 0.4 * sync.SyncScore
	}
	return score
}

func explain(entities, burstEntities int, res *Result) string {
	var parts []string
	if burstEntities > 0 {
		parts = append(parts, fmt.Sprintf("%d of %d entities show posting bursts", burstEntities, entities))
	}
	if len(res.LeadLag) > 0 {
		parts = append(parts, fmt.Sprintf("%d entity pairs show significant lead-lag timing", len(res.LeadLag)))
	}
	if res.Sync != nil {
		parts = append(parts, fmt.Sprintf("group of %d entities has hour-of-day sync score %.2f", len(res.Sync.EntityIDs), res.Sync.SyncScore))
	}
	if len(parts) == 0 {
		return "no temporal coordination indicators found"
	}
	return strings.Join(parts, "; ")
}

func sortedKeys(m map[string][]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
