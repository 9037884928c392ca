// Package quality classifies and thresholds bad records, deciding
// continue-versus-abort for each partition.
package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/metrics"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

// QuarantineName is the side artifact listing offending rows and reasons.
const QuarantineName = "bad-rows.ndjson"

// ErrThresholdExceeded reports that a partition's bad-row count crossed
// its configured threshold.
var ErrThresholdExceeded = errors.New("bad record threshold exceeded")

// ErrFailFast reports the first bad row under the fail_fast mode.
var ErrFailFast = errors.New("bad record under fail_fast error policy")

// BadRow is one quarantined record.
type BadRow struct {
	Ordinal int        `json:"ordinal"`
	Reason  string     `json:"reason"`
	Row     schema.Row `json:"row"`
}

type TrackerConfig struct {
	Logger  *slog.Logger
	Dataset *config.DatasetDescriptor
}

func (cfg *TrackerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dataset == nil {
		return errors.New("dataset descriptor is required")
	}
	return nil
}

// Tracker counts rows for one partition and applies the error policy.
// Not safe for concurrent use.
type Tracker struct {
	log     *slog.Logger
	dataset *config.DatasetDescriptor
	policy  config.ErrorPolicy

	total int
	bad   []BadRow
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		log:     cfg.Logger,
		dataset: cfg.Dataset,
		policy:  cfg.Dataset.ErrorPolicy,
	}, nil
}

// RecordGood counts one row that passed validation.
func (t *Tracker) RecordGood() {
	t.total++
}

// RecordBad quarantines one bad row. Under fail_fast the returned error
// aborts the partition immediately; under continue it is nil and the
// threshold check happens in Finalize.
func (t *Tracker) RecordBad(ordinal int, row schema.Row, cause error) error {
	t.total++
	t.bad = append(t.bad, BadRow{Ordinal: ordinal, Reason: cause.Error(), Row: row})
	metrics.BadRecordsTotal.WithLabelValues(t.dataset.ID(), reasonLabel(cause)).Inc()

	if t.policy.Mode == config.ErrorFailFast {
		return fmt.Errorf("row %d: %v: %w", ordinal, cause, ErrFailFast)
	}
	t.log.Warn("quarantined bad row", "dataset", t.dataset.ID(), "ordinal", ordinal, "reason", cause.Error())
	return nil
}

// BadCount returns the number of quarantined rows so far.
func (t *Tracker) BadCount() int { return len(t.bad) }

// Total returns the number of rows seen so far.
func (t *Tracker) Total() int { return t.total }

// Finalize applies the configured thresholds. Comparison is
// strictly-greater-than: at exactly the threshold the partition still
// succeeds. With both thresholds zero the partition tolerates no bad rows.
func (t *Tracker) Finalize() error {
	bad := len(t.bad)
	if bad == 0 {
		return nil
	}

	countConfigured := t.policy.MaxBadRecords > 0
	pctConfigured := t.policy.MaxBadPercent > 0

	if countConfigured && bad > t.policy.MaxBadRecords {
		return fmt.Errorf("%d bad records > max_bad_records %d: %w", bad, t.policy.MaxBadRecords, ErrThresholdExceeded)
	}
	if pctConfigured {
		pct := float64(bad) / float64(t.total) * 100
		if pct > t.policy.MaxBadPercent {
			return fmt.Errorf("%.2f%% bad records > max_bad_percent %.2f%%: %w", pct, t.policy.MaxBadPercent, ErrThresholdExceeded)
		}
	}
	if !countConfigured && !pctConfigured {
		return fmt.Errorf("%d bad records with zero tolerance configured: %w", bad, ErrThresholdExceeded)
	}
	return nil
}

// WriteQuarantine persists the quarantined rows as an NDJSON side artifact
// under prefix. Returns the artifact path, or empty when nothing was
// quarantined.
func (t *Tracker) WriteQuarantine(ctx context.Context, store storage.Store, prefix string) (string, error) {
	if len(t.bad) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range t.bad {
		if err := enc.Encode(row); err != nil {
			return "", fmt.Errorf("failed to encode quarantined row: %w", err)
		}
	}
	path := prefix + "/" + QuarantineName
	if _, err := store.Write(ctx, path, &buf); err != nil {
		return "", err
	}
	t.log.Info("wrote quarantine artifact", "dataset", t.dataset.ID(), "path", path, "rows", len(t.bad))
	return path, nil
}

func reasonLabel(err error) string {
	var sv *schema.SchemaViolationError
	if errors.As(err, &sv) {
		return "schema_violation"
	}
	return "coercion_failure"
}
