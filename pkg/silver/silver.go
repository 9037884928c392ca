// Package silver runs the Bronze-to-Silver promotion for one dataset and
// load date: plan the layout, validate and type the batch, apply the
// curated model, write chunked artifacts to a staging prefix, and promote
// the staged partition in one commit once its metadata record is durable.
package silver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tonysebion/bronze-foundry/pkg/chunk"
	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/integrity"
	"github.com/tonysebion/bronze-foundry/pkg/merge"
	"github.com/tonysebion/bronze-foundry/pkg/metrics"
	"github.com/tonysebion/bronze-foundry/pkg/partition"
	"github.com/tonysebion/bronze-foundry/pkg/quality"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

const defaultReadWorkers = 4

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Bronze  storage.Store
	Silver  storage.Store
	Dataset *config.DatasetDescriptor

	// Profile seeds the schema reconciler; when empty the profile is
	// inferred from the first batch.
	Profile schema.Profile

	// Workers bounds concurrent Bronze artifact reads.
	Workers int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bronze == nil {
		return errors.New("bronze store is required")
	}
	if cfg.Silver == nil {
		return errors.New("silver store is required")
	}
	if cfg.Dataset == nil {
		return errors.New("dataset descriptor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultReadWorkers
	}
	return nil
}

// Job promotes one dataset from Bronze to Silver, one load date per Run.
// Safe for sequential reuse across load dates; a single Run is not
// concurrent-safe with another Run on the same Job.
type Job struct {
	log     *slog.Logger
	clock   clockwork.Clock
	bronze  storage.Store
	silver  storage.Store
	dataset *config.DatasetDescriptor
	profile schema.Profile
	workers int

	planner  *partition.Planner
	verifier *integrity.Recorder // checksums against the Bronze store
	recorder *integrity.Recorder // records into the Silver store
}

func NewJob(cfg Config) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dataset.Validate(); err != nil {
		return nil, err
	}
	planner, err := partition.NewPlanner(partition.PlannerConfig{Logger: cfg.Logger, Bronze: cfg.Bronze})
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	verifier, err := integrity.NewRecorder(integrity.RecorderConfig{Logger: cfg.Logger, Store: cfg.Bronze, Clock: cfg.Clock})
	if err != nil {
		return nil, fmt.Errorf("failed to create bronze verifier: %w", err)
	}
	recorder, err := integrity.NewRecorder(integrity.RecorderConfig{Logger: cfg.Logger, Store: cfg.Silver, Clock: cfg.Clock})
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	return &Job{
		log:      cfg.Logger.With("dataset", cfg.Dataset.ID()),
		clock:    cfg.Clock,
		bronze:   cfg.Bronze,
		silver:   cfg.Silver,
		dataset:  cfg.Dataset,
		profile:  cfg.Profile.Clone(),
		workers:  cfg.Workers,
		planner:  planner,
		verifier: verifier,
		recorder: recorder,
	}, nil
}

// Report summarizes one promoted load.
type Report struct {
	OpID          string
	Output        string // promoted silver prefix
	Metadata      *integrity.LoadMetadata
	RowsIn        int
	RowsBad       int
	RowsOut       int
	SchemaEvolved bool
}

// Run promotes one load date. On any failure after staging writes begin,
// the staging prefix is removed; the visible partition is only ever
// replaced by the final promote, so a failed run leaves no partial output.
func (j *Job) Run(ctx context.Context, loadDate time.Time) (report *Report, err error) {
	start := j.clock.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.LoadTotal.WithLabelValues(j.dataset.ID(), status).Inc()
		metrics.LoadDuration.WithLabelValues(j.dataset.ID()).Observe(j.clock.Since(start).Seconds())
	}()

	plan, err := j.planner.Resolve(ctx, j.dataset, loadDate)
	if err != nil {
		return nil, err
	}

	// Model wiring fails before any Bronze byte is read.
	engine, err := merge.NewEngine(merge.EngineConfig{Logger: j.log, Dataset: j.dataset})
	if err != nil {
		return nil, err
	}

	if j.dataset.RequireChecksum {
		for _, input := range plan.Inputs {
			if input.Manifest == "" {
				continue
			}
			if err := j.verifier.VerifyManifest(ctx, input.Ref.RelativePath(), input.Manifest, input.Artifacts); err != nil {
				return nil, err
			}
		}
	}

	raw, err := j.readBatch(ctx, plan)
	if err != nil {
		return nil, err
	}
	metrics.RowsProcessedTotal.WithLabelValues(j.dataset.ID(), "read").Add(float64(len(raw)))

	reconciler, err := schema.NewReconciler(schema.ReconcilerConfig{Logger: j.log, Dataset: j.dataset, Profile: j.profile})
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reconciler: %w", err)
	}
	tracker, err := quality.NewTracker(quality.TrackerConfig{Logger: j.log, Dataset: j.dataset})
	if err != nil {
		return nil, fmt.Errorf("failed to create quality tracker: %w", err)
	}

	opID := uuid.NewString()

	good := make([]schema.Row, 0, len(raw))
	var abort error
	for i, row := range raw {
		typed, rerr := reconciler.ReconcileRow(row)
		if rerr != nil {
			if terr := tracker.RecordBad(i, row, rerr); terr != nil {
				abort = terr
				break
			}
			continue
		}
		tracker.RecordGood()
		good = append(good, typed)
	}

	// The quarantine artifact lives outside the staged partition so a
	// data-quality failure still leaves the offending rows on record.
	quarantinePath := ""
	if tracker.BadCount() > 0 {
		prefix := j.quarantinePrefix(plan.Output, loadDate, opID)
		quarantinePath, err = tracker.WriteQuarantine(ctx, j.silver, prefix)
		if err != nil {
			return nil, err
		}
	}
	if abort != nil {
		return nil, quarantinedErr(loadDate, j.dataset.ID(), quarantinePath, abort)
	}
	if err := tracker.Finalize(); err != nil {
		return nil, quarantinedErr(loadDate, j.dataset.ID(), quarantinePath, err)
	}
	metrics.RowsProcessedTotal.WithLabelValues(j.dataset.ID(), "reconciled").Add(float64(len(good)))

	var prior *merge.StateSnapshot
	if j.dataset.Model.RequiresPriorState() {
		prior, err = j.loadPrior(ctx, plan.Output, loadDate)
		if err != nil {
			return nil, err
		}
	}

	mergeStart := j.clock.Now()
	result, err := engine.Apply(ctx, prior, good)
	if err != nil {
		return nil, err
	}
	metrics.MergeDuration.WithLabelValues(j.dataset.ID(), string(j.dataset.Model)).Observe(j.clock.Since(mergeStart).Seconds())

	emitted := result.Emitted()
	if err := sortByPartition(emitted, plan.PartitionColumns); err != nil {
		return nil, err
	}

	profile := reconciler.Profile()
	if j.dataset.Model.EmitsHistory() {
		profile = withHistoryColumns(profile)
	}
	j.profile = profile

	staging := plan.Output.DatasetPath() + "/" + stagingDir + "/" + opID
	defer func() {
		if err != nil {
			cleanup := context.WithoutCancel(ctx)
			if derr := j.silver.DeleteAll(cleanup, staging); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				j.log.Warn("failed to clean up staging prefix", "staging", staging, "error", derr)
			}
		}
	}()

	writer, err := chunk.NewWriter(chunk.WriterConfig{
		Logger:           j.log,
		Store:            j.silver,
		Dataset:          j.dataset,
		BasePrefix:       staging,
		PartitionColumns: plan.PartitionColumns,
		Columns:          columnNames(profile),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk writer: %w", err)
	}
	for _, row := range emitted {
		if werr := writer.Write(ctx, row); werr != nil {
			return nil, werr
		}
	}
	if err := writer.Close(ctx); err != nil {
		return nil, err
	}

	meta := &integrity.LoadMetadata{
		Dataset:              j.dataset.ID(),
		Model:                string(j.dataset.Model),
		LoadDate:             loadDate.UTC().Format("2006-01-02"),
		OpID:                 opID,
		SchemaProfileVersion: profile.Version,
		SchemaProfile:        profile,
		PartitionKeys:        plan.PartitionColumns,
		PathConvention:       plan.Output.BasePath(),
		Artifacts:            artifactRecords(writer.Artifacts(), staging),
		ErrorCount:           tracker.BadCount(),
	}
	if quarantinePath != "" {
		meta.QuarantinePath = quarantinePath
	}
	// Metadata is written last inside staging: a partition without its
	// metadata record is by definition not committed.
	if err := j.recorder.Record(ctx, staging, meta); err != nil {
		return nil, err
	}

	final := plan.Output.BasePath()
	if err := j.silver.Promote(ctx, staging, final); err != nil {
		metrics.PromoteTotal.WithLabelValues(j.dataset.ID(), "error").Inc()
		return nil, err
	}
	metrics.PromoteTotal.WithLabelValues(j.dataset.ID(), "ok").Inc()

	j.log.Info("promoted silver load",
		"load_date", meta.LoadDate,
		"model", meta.Model,
		"op_id", opID,
		"output", final,
		"rows_in", len(raw),
		"rows_bad", tracker.BadCount(),
		"rows_out", meta.RowCount,
		"artifacts", len(meta.Artifacts),
		"schema_version", profile.Version,
		"duration", j.clock.Since(start),
	)

	return &Report{
		OpID:          opID,
		Output:        final,
		Metadata:      meta,
		RowsIn:        len(raw),
		RowsBad:       tracker.BadCount(),
		RowsOut:       meta.RowCount,
		SchemaEvolved: reconciler.Evolved(),
	}, nil
}

const quarantineDir = "_quarantine"

// quarantinePrefix scopes quarantined rows per load date and operation,
// beside the load partitions rather than inside them, so the listing
// survives a rejected load and a rerun never clobbers it.
func (j *Job) quarantinePrefix(out partition.SilverRef, loadDate time.Time, opID string) string {
	return out.DatasetPath() + "/" + quarantineDir +
		"/" + out.Keys.LoadDateKey + "=" + loadDate.UTC().Format("2006-01-02") +
		"/op=" + opID
}

func quarantinedErr(loadDate time.Time, dataset, quarantinePath string, cause error) error {
	if quarantinePath == "" {
		return fmt.Errorf("load %s for %s failed: %w", loadDate.Format("2006-01-02"), dataset, cause)
	}
	return fmt.Errorf("load %s for %s failed, offending rows quarantined at %s: %w",
		loadDate.Format("2006-01-02"), dataset, quarantinePath, cause)
}

// readBatch decodes every planned Bronze artifact, bounded by the worker
// limit, preserving artifact order so reruns see an identical batch.
func (j *Job) readBatch(ctx context.Context, plan *partition.Plan) ([]schema.Row, error) {
	var paths []string
	for _, input := range plan.Inputs {
		paths = append(paths, input.Artifacts...)
	}
	perArtifact := make([][]schema.Row, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			rows, err := readArtifact(gctx, j.bronze, path, artifactFormat(path, j.dataset.Format))
			if err != nil {
				return err
			}
			perArtifact[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var batch []schema.Row
	for _, rows := range perArtifact {
		batch = append(batch, rows...)
	}
	return batch, nil
}

// sortByPartition stable-sorts rows by their partition segment so the
// writer sees each partition as one contiguous run. Row order inside a
// partition is preserved.
func sortByPartition(rows []schema.Row, cols []string) error {
	if len(cols) == 0 || len(rows) < 2 {
		return nil
	}
	segments := make([]string, len(rows))
	for i, row := range rows {
		seg, err := chunk.PartitionSegment(row, cols)
		if err != nil {
			return err
		}
		segments[i] = seg
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return segments[idx[a]] < segments[idx[b]]
	})
	sorted := make([]schema.Row, len(rows))
	for i, from := range idx {
		sorted[i] = rows[from]
	}
	copy(rows, sorted)
	return nil
}

// withHistoryColumns extends the profile with the validity columns the
// scd_type_2 model stamps onto every emitted row, so prior-state restore
// types them correctly on the next load.
func withHistoryColumns(p schema.Profile) schema.Profile {
	out := p.Clone()
	for _, col := range []schema.Column{
		{Name: merge.ColEffectiveFrom, Type: schema.TypeTimestamp, Nullable: true},
		{Name: merge.ColEffectiveTo, Type: schema.TypeTimestamp, Nullable: true},
		{Name: merge.ColIsCurrent, Type: schema.TypeBool, Nullable: true},
	} {
		if _, ok := out.Column(col.Name); !ok {
			out.Columns = append(out.Columns, col)
		}
	}
	return out
}

func columnNames(p schema.Profile) []string {
	names := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		names[i] = col.Name
	}
	return names
}

func artifactRecords(arts []chunk.Artifact, staging string) []integrity.ArtifactRecord {
	records := make([]integrity.ArtifactRecord, len(arts))
	for i, a := range arts {
		records[i] = integrity.ArtifactRecord{
			Path:      strings.TrimPrefix(a.Path, staging+"/"),
			Partition: a.Partition,
			RowCount:  a.RowCount,
			ByteSize:  a.ByteSize,
		}
	}
	return records
}
