// Package ingest is the common orchestrator for source adapters:
// configurable runs, incremental windows, retry with exponential
// backoff, per-run log capture, and a structured result row per run.
package ingest

import (
	"context"
	"log/slog"
	"time"
)

// RunConfig enumerates the options every adapter understands. Adapter
// specific knobs travel in ExtraParams.
type RunConfig struct {
	// RunID, when set by the caller, becomes the run row's id so the
	// API layer can address the run before it completes.
	RunID string `json:"run_id,omitempty"`

	// Incremental sets DateFrom to the last completed run's start.
	Incremental bool `json:"incremental,omitempty"`

	// Limit stops the run after N records (0 = unlimited).
	Limit int `json:"limit,omitempty"`

	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	// TargetEntities restricts processing to these external ids/names.
	TargetEntities []string `json:"target_entities,omitempty"`

	// ExtraParams carries adapter-specific knobs (start_year,
	// countries, parse_pdfs, flag_canadian, ...).
	ExtraParams map[string]any `json:"extra_params,omitempty"`
}

// Action is the outcome of processing one record.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDuplicate Action = "duplicate"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// ProcessResult reports what one record did to the graph.
type ProcessResult struct {
	Action   Action
	EntityID string
	// RecordID is the first identifier available on the record, used
	// for per-record logging and error bookkeeping.
	RecordID string
}

// EmitFunc receives records from Fetch one at a time, in source order.
// Returning an error stops the fetch (the runner uses ErrStopFetch to
// end a limited run cleanly).
type EmitFunc func(record any) error

// Adapter is one data origin. Fetch yields parsed records lazily;
// Process resolves, writes graph state, and logs evidence for one
// record. Records are processed serially, in fetch order.
type Adapter interface {
	// Name is the source tag used for run rows, blob keys and rate
	// limiter lookup.
	Name() string

	Fetch(ctx context.Context, cfg RunConfig, emit EmitFunc) error
	Process(ctx context.Context, record any) (ProcessResult, error)
}

type loggerKey struct{}

// WithLogger attaches the per-run logger to ctx. The runner installs a
// logger whose records also land in the run's captured log.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the per-run logger from ctx, or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Bool reads a boolean extra param with a default.
func (c RunConfig) Bool(name string, def bool) bool {
	if v, ok := c.ExtraParams[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int reads an integer extra param with a default.
func (c RunConfig) Int(name string, def int) int {
	switch v := c.ExtraParams[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// String reads a string extra param with a default.
func (c RunConfig) String(name, def string) string {
	if v, ok := c.ExtraParams[name].(string); ok {
		return v
	}
	return def
}

// Strings reads a string-list extra param.
func (c RunConfig) Strings(name string) []string {
	switch v := c.ExtraParams[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Targeted reports whether id (or name) is included by TargetEntities.
// An empty target list includes everything.
func (c RunConfig) Targeted(ids ...string) bool {
	if len(c.TargetEntities) == 0 {
		return true
	}
	for _, want := range c.TargetEntities {
		for _, id := range ids {
			if id != "" && id == want {
				return true
			}
		}
	}
	return false
}
