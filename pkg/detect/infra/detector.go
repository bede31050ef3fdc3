// Package infra detects shared technical infrastructure between media
// outlet domains: DNS, WHOIS, hosting, analytics tags and SSL
// certificates are profiled per domain, then every unordered pair is
// scored against fixed signal weights.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/observability"
)

// Options tune one detection pass.
type Options struct {
	// MinScore is the reporting threshold. Zero means the default 1.0.
	MinScore float64
	// EdgeScore converts a match into a SHARED_INFRA edge. Zero means
	// the default 3.0.
	EdgeScore float64
	// Concurrency bounds parallel domain profiling. Zero means 8.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.MinScore <= 0 {
		o.MinScore = 1.0
	}
	if o.EdgeScore <= 0 {
		o.EdgeScore = 3.0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

// Detector profiles domains and scores their pairings. writer may be
// nil for report-only runs (no SHARED_INFRA edges written).
type Detector struct {
	profiler Profiler
	writer   *graph.Writer
	logger   *slog.Logger
	obs      *observability.Provider
}

// New creates an infrastructure detector.
func New(profiler Profiler, writer *graph.Writer, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{profiler: profiler, writer: writer, logger: logger}
}

// WithObservability attaches a telemetry provider; per-domain probe
// durations are then recorded.
func (d *Detector) WithObservability(p *observability.Provider) *Detector {
	d.obs = p
	return d
}

// Detect profiles the domains in parallel, scores every unordered
// pair, and returns matches at or above MinScore sorted by score
// descending. Matches at or above EdgeScore also become SHARED_INFRA
// edges between the corresponding outlet nodes.
func (d *Detector) Detect(ctx context.Context, domains []string, opts Options) ([]Match, error) {
	opts = opts.withDefaults()

	profiles, err := d.profileAll(ctx, domains, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			m := Compare(profiles[i], profiles[j])
			if m.TotalScore >= opts.MinScore {
				matches = append(matches, m)
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].TotalScore != matches[j].TotalScore {
			return matches[i].TotalScore > matches[j].TotalScore
		}
		return matches[i].DomainA+matches[i].DomainB < matches[j].DomainA+matches[j].DomainB
	})

	if d.writer != nil {
		for _, m := range matches {
			if m.TotalScore < opts.EdgeScore {
				continue
			}
			if err := d.writeEdge(ctx, m); err != nil {
				return nil, fmt.Errorf("shared infra edge %s/%s: %w", m.DomainA, m.DomainB, err)
			}
		}
	}

	d.logger.Info("infrastructure detection complete",
		"domains", len(profiles),
		"matches", len(matches))
	return matches, nil
}

func (d *Detector) profileAll(ctx context.Context, domains []string, concurrency int) ([]*Profile, error) {
	profiles := make([]*Profile, len(domains))
	errs := make([]error, len(domains))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, domain := range domains {
		// Acquire before spawning so concurrency bounds the number of
		// in-flight goroutines, not just active probes.
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			profiles[i], errs[i] = d.profiler.Profile(ctx, domain)
			if d.obs != nil {
				d.obs.RecordProbeDuration(ctx, "infra", time.Since(start))
			}
		}(i, domain)
	}
	wg.Wait()

	var out []*Profile
	for i, p := range profiles {
		if errs[i] != nil {
			d.logger.Warn("domain profiling failed", "domain", domains[i], "error", errs[i])
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// writeEdge upserts the outlet nodes for both domains and the
// undirected SHARED_INFRA edge between them.
func (d *Detector) writeEdge(ctx context.Context, m Match) error {
	return d.writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		a, err := upsertOutlet(ctx, rw, m.DomainA)
		if err != nil {
			return err
		}
		b, err := upsertOutlet(ctx, rw, m.DomainB)
		if err != nil {
			return err
		}
		_, err = rw.CreateSharedInfra(ctx, a.ID, b.ID, m.Signals, m.TotalScore, m.Category)
		return err
	})
}

func upsertOutlet(ctx context.Context, rw *graph.RecordWriter, domain string) (graph.NodeResult, error) {
	outlet := model.NewEntity(model.EntityOutlet, domain)
	outlet.SetExternalID(model.IDPrimaryDomain, domain)
	return rw.UpsertNode(ctx, outlet)
}
