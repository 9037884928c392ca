package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/integrity"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

// BronzeInput is one resolved Bronze partition with its data artifacts.
type BronzeInput struct {
	Ref       BronzeRef
	Artifacts []string // storage paths, sorted
	Manifest  string   // storage path of the checksum manifest, empty if absent
}

// Plan is the resolved layout for one dataset + load date.
type Plan struct {
	Inputs []BronzeInput
	Output SilverRef
	// PartitionColumns are the record-time partition keys for emitted rows.
	// Empty for current-state-only models.
	PartitionColumns []string
}

type PlannerConfig struct {
	Logger *slog.Logger
	Bronze storage.Store
}

func (cfg *PlannerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bronze == nil {
		return errors.New("bronze store is required")
	}
	return nil
}

// Planner resolves Bronze inputs and the Silver output prefix for a load.
type Planner struct {
	log    *slog.Logger
	bronze storage.Store
}

func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{log: cfg.Logger, bronze: cfg.Bronze}, nil
}

// Resolve computes the plan for one dataset and load date. Configuration
// contradictions surface here, before any row is read.
func (p *Planner) Resolve(ctx context.Context, desc *config.DatasetDescriptor, loadDate time.Time) (*Plan, error) {
	partitionCols, err := ResolvePartitionColumns(desc)
	if err != nil {
		return nil, err
	}

	ref := BronzeRef{
		System:  desc.SourceSystem,
		Table:   desc.SourceTable,
		Pattern: desc.Pattern,
		Date:    loadDate,
		Keys:    desc.PathKeys,
	}
	prefix := ref.RelativePath()

	paths, err := p.bronze.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list bronze partition %s: %w", prefix, err)
	}

	var artifacts []string
	manifest := ""
	for _, path := range paths {
		name := path[strings.LastIndex(path, "/")+1:]
		if name == integrity.ManifestName {
			manifest = path
			continue
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		artifacts = append(artifacts, path)
	}

	if len(artifacts) == 0 && !desc.AllowEmptyLoad {
		return nil, fmt.Errorf("bronze partition %s has no data artifacts: %w", prefix, storage.ErrNotFound)
	}
	if desc.RequireChecksum && manifest == "" && len(artifacts) > 0 {
		return nil, &integrity.IntegrityError{
			Path:   prefix + "/" + integrity.ManifestName,
			Reason: "checksum manifest is required but missing",
		}
	}

	plan := &Plan{
		Inputs: []BronzeInput{{Ref: ref, Artifacts: artifacts, Manifest: manifest}},
		Output: SilverRef{
			Domain:         desc.Domain,
			Entity:         desc.Entity,
			Version:        desc.Version,
			Pattern:        desc.Pattern,
			IncludePattern: desc.IncludePatternFolder,
			LoadDate:       loadDate,
			Keys:           desc.PathKeys,
		},
		PartitionColumns: partitionCols,
	}

	p.log.Debug("resolved load plan",
		"dataset", desc.ID(),
		"bronze", prefix,
		"silver", plan.Output.BasePath(),
		"artifacts", len(artifacts),
		"partition_columns", partitionCols,
	)
	return plan, nil
}

// ResolvePartitionColumns returns the record-time partition keys for the
// dataset. Current-state-only models always resolve to none; the descriptor
// invariant is re-checked here so a planner caller cannot slip past it.
func ResolvePartitionColumns(desc *config.DatasetDescriptor) ([]string, error) {
	if desc.HistoryMode.CurrentStateOnly() || desc.Model == config.ModelSCDType1 {
		if len(desc.PartitionBy) > 0 {
			return nil, &config.ConfigurationError{
				Field:  "partition_by",
				Reason: fmt.Sprintf("must be empty when history_mode=%s", desc.HistoryMode),
			}
		}
		return nil, nil
	}

	if len(desc.PartitionBy) > 0 {
		return append([]string(nil), desc.PartitionBy...), nil
	}

	// Default derivation by entity kind: event-like partitions by the
	// record-time date, state history by effective_from date.
	switch {
	case desc.Model == config.ModelSCDType2:
		return []string{"effective_from_dt"}, nil
	case desc.EntityKind.IsEventLike() && desc.RecordTimeColumn != "":
		return []string{desc.RecordTimeColumn + "_dt"}, nil
	default:
		return nil, nil
	}
}
