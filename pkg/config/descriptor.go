// Package config holds the validated dataset descriptor consumed by the
// Silver engine. A descriptor is constructed once at the job boundary,
// validated before any I/O, and passed explicitly to every component.
package config

import (
	"fmt"
	"strings"
)

// EntityKind classifies what a dataset's rows represent.
type EntityKind string

const (
	EntityKindEvent        EntityKind = "event"
	EntityKindState        EntityKind = "state"
	EntityKindDerivedEvent EntityKind = "derived_event"
	EntityKindDerivedState EntityKind = "derived_state"
)

func (k EntityKind) IsEventLike() bool {
	return k == EntityKindEvent || k == EntityKindDerivedEvent
}

func (k EntityKind) IsStateLike() bool {
	return k == EntityKindState || k == EntityKindDerivedState
}

// HistoryMode describes how much history the curated output retains.
type HistoryMode string

const (
	HistoryNone       HistoryMode = "none"
	HistorySCD1       HistoryMode = "scd1"
	HistorySCD2       HistoryMode = "scd2"
	HistoryLatestOnly HistoryMode = "latest_only"
)

// CurrentStateOnly reports whether the output carries only current state.
// Current-state-only outputs must never be partitioned by record time:
// "what is the current value" would need a max-date subquery and
// "what was true on date X" can return nothing once the value is
// overwritten out of that partition.
func (m HistoryMode) CurrentStateOnly() bool {
	return m == HistorySCD1 || m == HistoryLatestOnly
}

// Model is the curated transformation applied when promoting Bronze to Silver.
type Model string

const (
	ModelPeriodicSnapshot Model = "periodic_snapshot"
	ModelIncrementalMerge Model = "incremental_merge"
	ModelFullMergeDedupe  Model = "full_merge_dedupe"
	ModelSCDType1         Model = "scd_type_1"
	ModelSCDType2         Model = "scd_type_2"
)

var modelAliases = map[string]Model{
	"periodic_snapshot": ModelPeriodicSnapshot,
	"periodic":          ModelPeriodicSnapshot,
	"incremental_merge": ModelIncrementalMerge,
	"incremental":       ModelIncrementalMerge,
	"full_merge_dedupe": ModelFullMergeDedupe,
	"full_merge":        ModelFullMergeDedupe,
	"scd_type_1":        ModelSCDType1,
	"scd1":              ModelSCDType1,
	"scd_type_2":        ModelSCDType2,
	"scd2":              ModelSCDType2,
}

// ParseModel normalizes a model name, accepting the short aliases used in
// dataset descriptor files.
func ParseModel(s string) (Model, error) {
	m, ok := modelAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", &ConfigurationError{Field: "model", Reason: fmt.Sprintf("unknown model %q", s)}
	}
	return m, nil
}

// RequiresDedupe reports whether the model reduces rows per business key.
func (m Model) RequiresDedupe() bool {
	return m == ModelSCDType1 || m == ModelSCDType2 || m == ModelFullMergeDedupe
}

// RequiresPriorState reports whether the model consumes the previous load's
// current-state snapshot.
func (m Model) RequiresPriorState() bool {
	return m == ModelFullMergeDedupe || m == ModelSCDType1 || m == ModelSCDType2
}

// EmitsHistory reports whether the model emits historical rows.
func (m Model) EmitsHistory() bool {
	return m == ModelSCDType2
}

// SchemaPolicy selects how incoming batch schemas are reconciled against the
// dataset's schema profile.
type SchemaPolicy string

const (
	SchemaStrict  SchemaPolicy = "strict"
	SchemaLenient SchemaPolicy = "lenient"
	SchemaAuto    SchemaPolicy = "auto"
)

// ErrorMode selects partition-level behavior for bad rows.
type ErrorMode string

const (
	ErrorContinue ErrorMode = "continue"
	ErrorFailFast ErrorMode = "fail_fast"
)

// ErrorPolicy bounds how many bad rows a partition tolerates. Comparison is
// strictly-greater-than: at exactly the threshold the partition still
// succeeds.
type ErrorPolicy struct {
	Mode          ErrorMode `yaml:"mode"`
	MaxBadRecords int       `yaml:"max_bad_records"`
	MaxBadPercent float64   `yaml:"max_bad_percent"`
	JobAbort      bool      `yaml:"job_abort"`
}

// ArtifactFormat selects the durable artifact encoding.
type ArtifactFormat string

const (
	FormatCSV    ArtifactFormat = "csv"
	FormatNDJSON ArtifactFormat = "ndjson"
)

// PathKeys carries the configured partition key names. No folder literal is
// hardcoded anywhere else.
type PathKeys struct {
	// Bronze layer
	SystemKey     string `yaml:"system_key"`
	BronzeEntity  string `yaml:"bronze_entity_key"`
	BronzePattern string `yaml:"bronze_pattern_key"`
	DateKey       string `yaml:"date_key"`
	// Silver layer
	DomainKey   string `yaml:"domain_key"`
	EntityKey   string `yaml:"entity_key"`
	VersionKey  string `yaml:"version_key"`
	PatternKey  string `yaml:"pattern_key"`
	LoadDateKey string `yaml:"load_date_key"`
}

// DefaultPathKeys returns the conventional key names.
func DefaultPathKeys() PathKeys {
	return PathKeys{
		SystemKey:     "system",
		BronzeEntity:  "table",
		BronzePattern: "pattern",
		DateKey:       "dt",
		DomainKey:     "domain",
		EntityKey:     "entity",
		VersionKey:    "v",
		PatternKey:    "pattern",
		LoadDateKey:   "load_date",
	}
}

func (k *PathKeys) applyDefaults() {
	d := DefaultPathKeys()
	if k.SystemKey == "" {
		k.SystemKey = d.SystemKey
	}
	if k.BronzeEntity == "" {
		k.BronzeEntity = d.BronzeEntity
	}
	if k.BronzePattern == "" {
		k.BronzePattern = d.BronzePattern
	}
	if k.DateKey == "" {
		k.DateKey = d.DateKey
	}
	if k.DomainKey == "" {
		k.DomainKey = d.DomainKey
	}
	if k.EntityKey == "" {
		k.EntityKey = d.EntityKey
	}
	if k.VersionKey == "" {
		k.VersionKey = d.VersionKey
	}
	if k.PatternKey == "" {
		k.PatternKey = d.PatternKey
	}
	if k.LoadDateKey == "" {
		k.LoadDateKey = d.LoadDateKey
	}
}

// DatasetDescriptor is the single validated configuration value for one
// dataset. It is immutable after Validate.
type DatasetDescriptor struct {
	Domain  string `yaml:"domain"`
	Entity  string `yaml:"entity"`
	Version int    `yaml:"version"`
	Pattern string `yaml:"pattern"`

	SourceSystem string `yaml:"source_system"`
	SourceTable  string `yaml:"source_table"`

	EntityKind  EntityKind  `yaml:"entity_kind"`
	HistoryMode HistoryMode `yaml:"history_mode"`
	Model       Model       `yaml:"model"`

	BusinessKeys     []string `yaml:"business_keys"`
	OrderColumn      string   `yaml:"order_column"`
	PartitionBy      []string `yaml:"partition_by"`
	RecordTimeColumn string   `yaml:"record_time_column"`

	SchemaPolicy SchemaPolicy `yaml:"schema_policy"`
	ErrorPolicy  ErrorPolicy  `yaml:"error_policy"`

	ChunkMaxRows     int            `yaml:"chunk_max_rows"`
	MaxArtifactBytes int64          `yaml:"max_artifact_bytes"`
	Format           ArtifactFormat `yaml:"format"`

	RequireChecksum      bool     `yaml:"require_checksum"`
	AllowEmptyLoad       bool     `yaml:"allow_empty_load"`
	IncludePatternFolder bool     `yaml:"include_pattern_folder"`
	PathKeys             PathKeys `yaml:"path_keys"`
}

// ID returns the dataset identity used in logs and metrics.
func (d *DatasetDescriptor) ID() string {
	return d.Domain + "." + d.Entity
}

// KeyColumns returns the columns that carry the dataset's identity and
// ordering: the business keys, the order column, and the record-time
// column. Deduplicated, empty names dropped.
func (d *DatasetDescriptor) KeyColumns() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, name := range append(append([]string{}, d.BusinessKeys...), d.OrderColumn, d.RecordTimeColumn) {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Validate checks the descriptor and applies defaults. It must be called
// before the descriptor reaches any component; every contradiction is
// reported as a ConfigurationError naming the offending field.
func (d *DatasetDescriptor) Validate() error {
	if d.Domain == "" {
		return &ConfigurationError{Field: "domain", Reason: "is required"}
	}
	if d.Entity == "" {
		return &ConfigurationError{Field: "entity", Reason: "is required"}
	}
	if d.Version <= 0 {
		d.Version = 1
	}

	switch d.EntityKind {
	case EntityKindEvent, EntityKindState, EntityKindDerivedEvent, EntityKindDerivedState:
	case "":
		return &ConfigurationError{Field: "entity_kind", Reason: "is required"}
	default:
		return &ConfigurationError{Field: "entity_kind", Reason: fmt.Sprintf("unknown value %q", d.EntityKind)}
	}

	switch d.HistoryMode {
	case HistoryNone, HistorySCD1, HistorySCD2, HistoryLatestOnly:
	case "":
		d.HistoryMode = HistoryNone
	default:
		return &ConfigurationError{Field: "history_mode", Reason: fmt.Sprintf("unknown value %q", d.HistoryMode)}
	}

	if d.Model == "" {
		d.Model = defaultModel(d.EntityKind, d.HistoryMode)
	} else {
		m, err := ParseModel(string(d.Model))
		if err != nil {
			return err
		}
		d.Model = m
	}

	if d.EntityKind.IsStateLike() && len(d.BusinessKeys) == 0 {
		return &ConfigurationError{Field: "business_keys", Reason: "required for state models"}
	}
	if d.Model.RequiresDedupe() {
		if len(d.BusinessKeys) == 0 {
			return &ConfigurationError{Field: "business_keys", Reason: fmt.Sprintf("required for model %s", d.Model)}
		}
		if d.OrderColumn == "" {
			return &ConfigurationError{Field: "order_column", Reason: fmt.Sprintf("required for model %s", d.Model)}
		}
	}

	// Current-state-only outputs cannot carry a record-time segment.
	if d.HistoryMode.CurrentStateOnly() && len(d.PartitionBy) > 0 {
		return &ConfigurationError{
			Field:  "partition_by",
			Reason: fmt.Sprintf("must be empty when history_mode=%s: current-state output cannot be partitioned by change date", d.HistoryMode),
		}
	}
	if d.Model == ModelSCDType1 && len(d.PartitionBy) > 0 {
		return &ConfigurationError{
			Field:  "partition_by",
			Reason: "must be empty for scd_type_1: output is a full current-state snapshot",
		}
	}

	switch d.SchemaPolicy {
	case SchemaStrict, SchemaLenient, SchemaAuto:
	case "":
		d.SchemaPolicy = SchemaStrict
	default:
		return &ConfigurationError{Field: "schema_policy", Reason: fmt.Sprintf("unknown value %q", d.SchemaPolicy)}
	}

	switch d.ErrorPolicy.Mode {
	case ErrorContinue, ErrorFailFast:
	case "":
		d.ErrorPolicy.Mode = ErrorFailFast
	default:
		return &ConfigurationError{Field: "error_policy.mode", Reason: fmt.Sprintf("unknown value %q", d.ErrorPolicy.Mode)}
	}
	if d.ErrorPolicy.MaxBadRecords < 0 {
		return &ConfigurationError{Field: "error_policy.max_bad_records", Reason: "must be >= 0"}
	}
	if d.ErrorPolicy.MaxBadPercent < 0 || d.ErrorPolicy.MaxBadPercent > 100 {
		return &ConfigurationError{Field: "error_policy.max_bad_percent", Reason: "must be between 0 and 100"}
	}

	if d.ChunkMaxRows <= 0 {
		d.ChunkMaxRows = 50000
	}
	if d.MaxArtifactBytes < 0 {
		return &ConfigurationError{Field: "max_artifact_bytes", Reason: "must be >= 0 (0 disables splitting)"}
	}

	switch d.Format {
	case FormatCSV, FormatNDJSON:
	case "":
		d.Format = FormatNDJSON
	default:
		return &ConfigurationError{Field: "format", Reason: fmt.Sprintf("unknown value %q", d.Format)}
	}

	d.PathKeys.applyDefaults()
	return nil
}

// defaultModel mirrors the conventional pairing of entity kind and history
// mode when no model is configured explicitly.
func defaultModel(kind EntityKind, history HistoryMode) Model {
	if kind.IsEventLike() {
		return ModelIncrementalMerge
	}
	switch history {
	case HistorySCD2:
		return ModelSCDType2
	case HistorySCD1, HistoryLatestOnly:
		return ModelSCDType1
	default:
		return ModelPeriodicSnapshot
	}
}
