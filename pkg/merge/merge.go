// Package merge applies one of five curated transformation models to a
// batch of reconciled rows, optionally combined with the prior load's
// current-state snapshot.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
)

// SCD2 metadata columns added to emitted rows.
const (
	ColEffectiveFrom = "effective_from"
	ColEffectiveTo   = "effective_to"
	ColIsCurrent     = "is_current"
)

// StateSnapshot is the prior current state, passed explicitly into the
// engine as a versioned parameter. For scd_type_2 it carries the full
// timeline; for the other merge models the current rows only.
type StateSnapshot struct {
	LoadDate string
	Rows     []schema.Row
}

// Result of applying a model to one batch.
type Result struct {
	// Current is the new current-state projection. For snapshot/delta
	// models it is the emitted batch itself.
	Current []schema.Row
	// History is the full timeline (scd_type_2 only).
	History []schema.Row
}

// Emitted returns the rows to persist for this load.
func (r *Result) Emitted() []schema.Row {
	if r.History != nil {
		return r.History
	}
	return r.Current
}

// MergeStateError reports a required prior-state snapshot that is missing
// or corrupt. Fatal to the partition, isolated from siblings unless
// job-wide abort is configured.
type MergeStateError struct {
	Dataset string
	Reason  string
	Err     error
}

func (e *MergeStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge state error for %s: %s: %v", e.Dataset, e.Reason, e.Err)
	}
	return fmt.Sprintf("merge state error for %s: %s", e.Dataset, e.Reason)
}

func (e *MergeStateError) Unwrap() error { return e.Err }

type EngineConfig struct {
	Logger  *slog.Logger
	Dataset *config.DatasetDescriptor
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dataset == nil {
		return errors.New("dataset descriptor is required")
	}
	return nil
}

// Engine applies the dataset's configured model. Construction fails fast,
// at job start, when the model's required business keys or order column
// are missing.
type Engine struct {
	log     *slog.Logger
	dataset *config.DatasetDescriptor
	keys    []string
	order   string
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	desc := cfg.Dataset
	if desc.Model.RequiresDedupe() {
		if len(desc.BusinessKeys) == 0 {
			return nil, &config.ConfigurationError{Field: "business_keys", Reason: fmt.Sprintf("required for model %s", desc.Model)}
		}
		if desc.OrderColumn == "" {
			return nil, &config.ConfigurationError{Field: "order_column", Reason: fmt.Sprintf("required for model %s", desc.Model)}
		}
	}
	return &Engine{
		log:     cfg.Logger,
		dataset: desc,
		keys:    desc.BusinessKeys,
		order:   desc.OrderColumn,
	}, nil
}

// Apply runs the configured model over the batch. The merge reduction for
// state models is a single authoritative pass over each business key's
// rows; callers must not shard a dataset's batch across engines unless the
// shards are keyed by a stable hash of the business keys.
func (e *Engine) Apply(ctx context.Context, prior *StateSnapshot, batch []schema.Row) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch e.dataset.Model {
	case config.ModelPeriodicSnapshot:
		return &Result{Current: batch}, nil
	case config.ModelIncrementalMerge:
		return &Result{Current: batch}, nil
	case config.ModelFullMergeDedupe:
		return e.applyDedupe(ctx, prior, batch)
	case config.ModelSCDType1:
		return e.applyDedupe(ctx, prior, batch)
	case config.ModelSCDType2:
		return e.applySCD2(ctx, prior, batch)
	default:
		return nil, &config.ConfigurationError{Field: "model", Reason: fmt.Sprintf("unknown model %q", e.dataset.Model)}
	}
}
