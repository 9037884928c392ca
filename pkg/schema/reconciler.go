package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/metrics"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

const dateLayout = "2006-01-02"

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

type ReconcilerConfig struct {
	Logger  *slog.Logger
	Dataset *config.DatasetDescriptor
	Profile Profile
}

func (cfg *ReconcilerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dataset == nil {
		return errors.New("dataset descriptor is required")
	}
	return nil
}

// Reconciler validates each incoming row against the dataset's schema
// profile, evolving the profile where the configured policy allows it.
// Not safe for concurrent use; the pipeline feeds it from a single
// goroutine after the concurrent read stage.
type Reconciler struct {
	log     *slog.Logger
	dataset *config.DatasetDescriptor
	policy  config.SchemaPolicy
	profile Profile
	evolved bool
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reconciler{
		log:     cfg.Logger,
		dataset: cfg.Dataset,
		policy:  cfg.Dataset.SchemaPolicy,
		profile: cfg.Profile.Clone(),
	}
	r.protectKeyColumns()
	return r, nil
}

// protectKeyColumns pins the dataset's identity columns as required:
// a row missing its business key, order column, or record-time column is
// always a violation, whatever the policy says about other columns.
func (r *Reconciler) protectKeyColumns() {
	protected := map[string]struct{}{}
	for _, name := range r.dataset.KeyColumns() {
		protected[name] = struct{}{}
	}
	for i, col := range r.profile.Columns {
		if _, ok := protected[col.Name]; ok {
			r.profile.Columns[i].Nullable = false
		}
	}
}

// Profile returns the current profile, including any accepted evolution.
func (r *Reconciler) Profile() Profile {
	return r.profile.Clone()
}

// Evolved reports whether the profile version was bumped during this load.
func (r *Reconciler) Evolved() bool {
	return r.evolved
}

// ReconcileRow validates one row, returning the normalized row. A
// *SchemaViolationError return means the row is bad; the caller decides
// quarantine versus abort via the error policy.
func (r *Reconciler) ReconcileRow(row Row) (Row, error) {
	if len(r.profile.Columns) == 0 {
		r.profile = InferProfile([]Row{row})
		r.protectKeyColumns()
	}

	out := make(Row, len(row))

	// Unknown columns: rejected under strict, appended (with a version
	// bump) under lenient and auto.
	for _, name := range sortedKeys(row) {
		if _, ok := r.profile.Column(name); ok {
			continue
		}
		if r.policy == config.SchemaStrict {
			return nil, &SchemaViolationError{Column: name, Reason: "unexpected column under strict policy"}
		}
		col := Column{Name: name, Type: inferType(row[name]), Nullable: true}
		r.profile.Columns = append(r.profile.Columns, col)
		r.profile.Version++
		r.evolved = true
		r.log.Info("schema profile evolved: new column",
			"dataset", r.dataset.ID(), "column", name, "type", col.Type, "version", r.profile.Version)
	}

	for _, col := range r.profile.Columns {
		raw, present := row[col.Name]
		if !present {
			// Strict tolerates no absent columns; lenient and auto
			// null-backfill optional ones.
			if r.policy == config.SchemaStrict || !col.Nullable {
				return nil, &SchemaViolationError{Column: col.Name, Reason: "missing expected column"}
			}
			out[col.Name] = nil
			continue
		}
		if raw == nil {
			if !col.Nullable {
				return nil, &SchemaViolationError{Column: col.Name, Reason: "missing required value"}
			}
			out[col.Name] = nil
			continue
		}
		val, coerced, err := normalizeValue(raw, col, r.policy)
		if err != nil {
			return nil, err
		}
		if coerced {
			metrics.SchemaCoercionsTotal.WithLabelValues(r.dataset.ID(), col.Name).Inc()
			r.log.Debug("coerced value", "dataset", r.dataset.ID(), "column", col.Name, "from", fmt.Sprintf("%T", raw), "to", col.Type)
		}
		out[col.Name] = val
	}
	return out, nil
}

// normalizeValue converts raw into the column's semantic type. The bool
// result reports whether a best-effort coercion (auto policy only) was
// applied, as opposed to an exact or widening match.
func normalizeValue(raw any, col Column, policy config.SchemaPolicy) (any, bool, error) {
	auto := policy == config.SchemaAuto

	switch col.Type {
	case TypeString:
		if s, ok := raw.(string); ok {
			return s, false, nil
		}
		if auto {
			return fmt.Sprintf("%v", raw), true, nil
		}
		return nil, false, mismatch(col, raw, policy)

	case TypeInt:
		switch v := raw.(type) {
		case int:
			return int64(v), false, nil
		case int32:
			return int64(v), false, nil
		case int64:
			return v, false, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), false, nil
			}
			return nil, false, &SchemaViolationError{Column: col.Name, Reason: fmt.Sprintf("fractional value %v for int column", v)}
		case string:
			if auto {
				n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				if err != nil {
					return nil, false, mismatch(col, raw, policy)
				}
				return n, true, nil
			}
		}
		return nil, false, mismatch(col, raw, policy)

	case TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, false, nil
		case float32:
			return float64(v), false, nil
		case int:
			return float64(v), false, nil
		case int64:
			return float64(v), false, nil
		case string:
			if auto {
				f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					return nil, false, mismatch(col, raw, policy)
				}
				return f, true, nil
			}
		}
		return nil, false, mismatch(col, raw, policy)

	case TypeDecimal:
		// Decimals travel as text; parse losslessly and store the
		// canonical form so checksums stay deterministic.
		var text string
		coerced := false
		switch v := raw.(type) {
		case string:
			text = strings.TrimSpace(v)
		case float64:
			if !auto {
				return nil, false, mismatch(col, raw, policy)
			}
			text = strconv.FormatFloat(v, 'f', -1, 64)
			coerced = true
		case int64:
			text = strconv.FormatInt(v, 10)
		case int:
			text = strconv.Itoa(v)
		default:
			return nil, false, mismatch(col, raw, policy)
		}
		d, _, err := apd.NewFromString(text)
		if err != nil {
			return nil, false, &SchemaViolationError{Column: col.Name, Reason: fmt.Sprintf("invalid decimal %q", text)}
		}
		return d.Text('f'), coerced, nil

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, false, nil
		case string:
			if auto {
				switch strings.ToLower(strings.TrimSpace(v)) {
				case "true", "1", "yes", "y":
					return true, true, nil
				case "false", "0", "no", "n":
					return false, true, nil
				}
			}
		}
		return nil, false, mismatch(col, raw, policy)

	case TypeTimestamp:
		// Timestamps always arrive as text from CSV/NDJSON Bronze
		// artifacts; parsing is validation, not coercion.
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), false, nil
		case string:
			t, err := parseTimestamp(v)
			if err != nil {
				return nil, false, &SchemaViolationError{Column: col.Name, Reason: err.Error()}
			}
			return t, false, nil
		}
		return nil, false, mismatch(col, raw, policy)

	case TypeDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC().Truncate(24 * time.Hour), false, nil
		case string:
			t, err := time.Parse(dateLayout, strings.TrimSpace(v))
			if err != nil {
				return nil, false, &SchemaViolationError{Column: col.Name, Reason: fmt.Sprintf("invalid date %q", v)}
			}
			return t.UTC(), false, nil
		}
		return nil, false, mismatch(col, raw, policy)

	default:
		return nil, false, &SchemaViolationError{Column: col.Name, Reason: fmt.Sprintf("unknown column type %q", col.Type)}
	}
}

func mismatch(col Column, raw any, policy config.SchemaPolicy) *SchemaViolationError {
	return &SchemaViolationError{
		Column: col.Name,
		Reason: fmt.Sprintf("value of type %T does not match column type %s under %s policy", raw, col.Type, policy),
	}
}

// Restore re-types a row decoded from a stored artifact, where CSV yields
// strings and NDJSON yields float64 for every number. Columns absent from
// the profile pass through untouched.
func Restore(profile Profile, row Row) (Row, error) {
	out := make(Row, len(row))
	for name, raw := range row {
		col, ok := profile.Column(name)
		if !ok {
			out[name] = raw
			continue
		}
		if raw == nil {
			out[name] = nil
			continue
		}
		if s, isStr := raw.(string); isStr && s == "" && col.Nullable && col.Type != TypeString {
			out[name] = nil
			continue
		}
		val, _, err := normalizeValue(raw, col, config.SchemaAuto)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}
