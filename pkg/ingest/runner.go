package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/observability"
	"github.com/civiclens/mitds/pkg/store"
)

// ErrStopFetch is returned from the emit callback when the run's record
// limit is reached. Adapters treat it as a clean end of stream.
var ErrStopFetch = errors.New("fetch stopped")

const progressEvery = 100

// Runner drives one adapter through a configured run: resolves the
// incremental window, captures logs, counts outcomes, and persists
// exactly one run row.
type Runner struct {
	runs   store.RunStore
	logger *slog.Logger
	obs    *observability.Provider
}

// NewRunner creates a runner writing run rows through runs.
func NewRunner(runs store.RunStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{runs: runs, logger: logger}
}

// WithObservability attaches a telemetry provider. Runs are traced and
// per-record outcomes counted.
func (r *Runner) WithObservability(p *observability.Provider) *Runner {
	r.obs = p
	return r
}

// Run executes one ingestion run. Record-level failures are recorded on
// the result and never abort the run; a fetch failure marks the run
// failed. The returned result is always non-nil and already persisted.
func (r *Runner) Run(ctx context.Context, adapter Adapter, cfg RunConfig) (result *model.IngestionResult, retErr error) {
	source := adapter.Name()
	result = model.NewIngestionResult(cfg.RunID, source)

	buf := NewLogBuffer(r.logger.Handler())
	runLogger := slog.New(buf).With("source", source, "run_id", result.ID)
	ctx = WithLogger(ctx, runLogger)

	if r.obs != nil {
		var done func(error)
		ctx, done = r.obs.TrackRun(ctx, source, observability.AttrRunID.String(result.ID))
		defer func() { done(retErr) }()
	}

	if cfg.Incremental && cfg.DateFrom == nil {
		since, err := r.runs.LastCompleted(ctx, source)
		if err != nil {
			return result, fmt.Errorf("resolve incremental window: %w", err)
		}
		cfg.DateFrom = since
		if since != nil {
			runLogger.Info("incremental run", "since", since.Format(time.RFC3339))
		} else {
			runLogger.Info("incremental run with no prior completion, full pull")
		}
	}

	if err := r.runs.Save(ctx, result); err != nil {
		return result, fmt.Errorf("save run row: %w", err)
	}
	runLogger.Info("run started", "limit", cfg.Limit, "targets", len(cfg.TargetEntities))

	fetchErr := adapter.Fetch(ctx, cfg, func(record any) error {
		if cfg.Limit > 0 && result.RecordsProcessed >= cfg.Limit {
			return ErrStopFetch
		}
		r.processOne(ctx, adapter, record, result, runLogger)
		if result.RecordsProcessed%progressEvery == 0 {
			runLogger.Info("progress",
				"processed", result.RecordsProcessed,
				"created", result.RecordsCreated,
				"updated", result.RecordsUpdated,
				"duplicates", result.Duplicates,
				"errors", len(result.Errors))
		}
		return nil
	})

	now := time.Now().UTC()
	result.CompletedAt = &now
	switch {
	case fetchErr != nil && !errors.Is(fetchErr, ErrStopFetch):
		result.Status = model.RunFailed
		result.Errors = append(result.Errors, model.RunError{
			Message: (&model.APIError{Code: model.CodeFatalRun, Message: fetchErr.Error()}).Error(),
			At:      now,
		})
		runLogger.Error("fetch failed", "err", fetchErr)
	case len(result.Errors) > 0:
		result.Status = model.RunPartial
	default:
		result.Status = model.RunCompleted
	}
	result.Log = strings.Join(buf.Lines(), "\n")

	runLogger.Info("run finished",
		"status", string(result.Status),
		"processed", result.RecordsProcessed,
		"created", result.RecordsCreated,
		"updated", result.RecordsUpdated,
		"duplicates", result.Duplicates,
		"errors", len(result.Errors),
		"duration", now.Sub(result.StartedAt).Round(time.Millisecond).String())

	if err := r.runs.Save(ctx, result); err != nil {
		return result, fmt.Errorf("save run row: %w", err)
	}
	if fetchErr != nil && !errors.Is(fetchErr, ErrStopFetch) {
		return result, fetchErr
	}
	return result, nil
}

// processOne runs adapter.Process for one record, translating panics
// and errors into record-level failures on the result.
func (r *Runner) processOne(ctx context.Context, adapter Adapter, record any, result *model.IngestionResult, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			result.RecordsProcessed++
			result.Errors = append(result.Errors, model.RunError{
				Message: fmt.Sprintf("panic: %v", rec),
				At:      time.Now().UTC(),
			})
			logger.Error("record panicked", "panic", rec)
		}
	}()

	pr, err := adapter.Process(ctx, record)
	result.RecordsProcessed++
	if err != nil {
		runErr := model.RunError{
			RecordID: pr.RecordID,
			Message:  err.Error(),
			At:       time.Now().UTC(),
		}
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			if f, ok := apiErr.Details["field"]; ok {
				runErr.Field = f
			}
		}
		result.Errors = append(result.Errors, runErr)
		logger.Warn("record failed", "record", pr.RecordID, "err", err)
		if r.obs != nil {
			r.obs.RecordIngestedRecord(ctx, adapter.Name(), string(ActionFailed))
		}
		return
	}

	switch pr.Action {
	case ActionCreated:
		result.RecordsCreated++
	case ActionUpdated:
		result.RecordsUpdated++
	case ActionDuplicate:
		result.Duplicates++
	}
	if r.obs != nil {
		r.obs.RecordIngestedRecord(ctx, adapter.Name(), string(pr.Action))
	}
	logger.Info("record", "action", string(pr.Action), "record", pr.RecordID, "entity", pr.EntityID)
}
