package temporal

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/civiclens/mitds/pkg/model"
)

// HardNegativeFilter removes events whose pattern is known-legitimate
// coordination (syndicated feeds, scheduled reposts). Rules are
// analyst-authored CEL expressions over the event fields; an event is
// dropped when any rule evaluates to true.
type HardNegativeFilter struct {
	programs []cel.Program
	sources  []string
}

// NewHardNegativeFilter compiles the rule expressions. Each rule sees
// entity_id, event_type, hour (UTC hour-of-day) and metadata.
func NewHardNegativeFilter(rules []string) (*HardNegativeFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	f := &HardNegativeFilter{}
	for _, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", rule, err)
		}
		f.programs = append(f.programs, prg)
		f.sources = append(f.sources, rule)
	}
	return f, nil
}

// Apply returns the events no rule matched. Rule evaluation errors drop
// the rule for that event, never the event.
func (f *HardNegativeFilter) Apply(events []model.TimingEvent, logger *slog.Logger) []model.TimingEvent {
	if f == nil || len(f.programs) == 0 {
		return events
	}
	kept := make([]model.TimingEvent, 0, len(events))
	dropped := 0
	for _, ev := range events {
		input := map[string]any{
			"entity_id":  ev.EntityID,
			"event_type": ev.EventType,
			"hour":       ev.Timestamp.UTC().Hour(),
			"metadata":   orEmpty(ev.Metadata),
		}
		if f.matches(input, logger) {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	if dropped > 0 && logger != nil {
		logger.Debug("hard-negative filter dropped events", "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func (f *HardNegativeFilter) matches(input map[string]any, logger *slog.Logger) bool {
	for i, prg := range f.programs {
		val, _, err := prg.Eval(input)
		if err != nil {
			if logger != nil {
				logger.Warn("hard-negative rule failed", "rule", f.sources[i], "error", err)
			}
			continue
		}
		if matched, ok := val.Value().(bool); ok && matched {
			return true
		}
	}
	return false
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
