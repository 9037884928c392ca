package silver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonysebion/bronze-foundry/pkg/integrity"
	"github.com/tonysebion/bronze-foundry/pkg/merge"
	"github.com/tonysebion/bronze-foundry/pkg/partition"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

const stagingDir = "_staging"

// loadPrior reads the newest promoted load partition strictly before
// loadDate and restores its rows into the prior-state snapshot. Returns
// nil when no prior load exists (cold start). A prior partition that
// exists but cannot be read back intact is a MergeStateError: the engine
// must never merge against a guessed state.
func (j *Job) loadPrior(ctx context.Context, out partition.SilverRef, loadDate time.Time) (*merge.StateSnapshot, error) {
	datasetPrefix := out.DatasetPath()
	paths, err := j.silver.List(ctx, datasetPrefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list silver dataset %s: %w", datasetPrefix, err)
	}

	cutoff := loadDate.UTC().Format("2006-01-02")
	best := ""
	marker := out.Keys.LoadDateKey + "="
	for _, path := range paths {
		rest := strings.TrimPrefix(path, datasetPrefix+"/")
		seg, _, _ := strings.Cut(rest, "/")
		if seg == stagingDir || !strings.HasPrefix(seg, marker) {
			continue
		}
		date := strings.TrimPrefix(seg, marker)
		if date < cutoff && date > best {
			best = date
		}
	}
	if best == "" {
		return nil, nil
	}

	prefix := datasetPrefix + "/" + marker + best
	meta, err := integrity.ReadMetadata(ctx, j.silver, prefix)
	if err != nil {
		return nil, &merge.MergeStateError{
			Dataset: j.dataset.ID(),
			Reason:  fmt.Sprintf("prior load partition %s has no readable metadata record", prefix),
			Err:     err,
		}
	}

	var rows []schema.Row
	for _, art := range meta.Artifacts {
		path := prefix + "/" + art.Path
		decoded, err := readArtifact(ctx, j.silver, path, artifactFormat(art.Path, j.dataset.Format))
		if err != nil {
			return nil, &merge.MergeStateError{
				Dataset: j.dataset.ID(),
				Reason:  fmt.Sprintf("prior state artifact %s is unreadable", path),
				Err:     err,
			}
		}
		for _, raw := range decoded {
			row, err := schema.Restore(meta.SchemaProfile, raw)
			if err != nil {
				return nil, &merge.MergeStateError{
					Dataset: j.dataset.ID(),
					Reason:  fmt.Sprintf("prior state artifact %s holds a row that no longer fits its recorded schema profile", path),
					Err:     err,
				}
			}
			rows = append(rows, row)
		}
	}

	j.log.Debug("loaded prior state snapshot",
		"dataset", j.dataset.ID(), "prior_load_date", best, "rows", len(rows))
	return &merge.StateSnapshot{LoadDate: best, Rows: rows}, nil
}
