package integrity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

// ArtifactRecord carries the integrity facts for one written artifact.
type ArtifactRecord struct {
	Path      string `json:"path"`
	Partition string `json:"partition,omitempty"`
	RowCount  int    `json:"row_count"`
	ByteSize  int64  `json:"byte_size"`
	Checksum  string `json:"checksum"`
}

// LoadMetadata is the single metadata record per load_date: the only
// interface read by rerun/idempotency checks and by the external DDL
// generator. It is created once, after a fully successful write, and
// never mutated; reruns replace the whole load_date partition.
type LoadMetadata struct {
	Dataset              string           `json:"dataset"`
	Model                string           `json:"model"`
	LoadDate             string           `json:"load_date"`
	OpID                 string           `json:"op_id"`
	SchemaProfileVersion int              `json:"schema_profile_version"`
	SchemaProfile        schema.Profile   `json:"schema_profile"`
	PartitionKeys        []string         `json:"partition_keys,omitempty"`
	PathConvention       string           `json:"path_convention"`
	Artifacts            []ArtifactRecord `json:"artifacts"`
	RowCount             int              `json:"row_count"`
	ByteSize             int64            `json:"byte_size"`
	ErrorCount           int              `json:"error_count"`
	QuarantinePath       string           `json:"quarantine_path,omitempty"`
	WrittenAt            time.Time        `json:"written_at"`
}

type RecorderConfig struct {
	Logger *slog.Logger
	Store  storage.Store
	Clock  clockwork.Clock
}

func (cfg *RecorderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Recorder computes per-artifact checksums and writes the load metadata
// record.
type Recorder struct {
	log   *slog.Logger
	store storage.Store
	clock clockwork.Clock
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{log: cfg.Logger, store: cfg.Store, clock: cfg.Clock}, nil
}

// Checksum computes the content checksum of one stored artifact.
func (r *Recorder) Checksum(ctx context.Context, path string) (string, error) {
	rc, err := r.store.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Record finalizes the load: checksums every artifact and writes the
// metadata record under prefix. Artifact paths are relative to prefix so
// the record stays valid after the staging prefix is promoted; counts must
// already be filled in, checksums and totals are computed here.
func (r *Recorder) Record(ctx context.Context, prefix string, meta *LoadMetadata) error {
	if meta.OpID == "" {
		meta.OpID = uuid.NewString()
	}
	meta.RowCount = 0
	meta.ByteSize = 0
	for i := range meta.Artifacts {
		sum, err := r.Checksum(ctx, prefix+"/"+meta.Artifacts[i].Path)
		if err != nil {
			return err
		}
		meta.Artifacts[i].Checksum = sum
		meta.RowCount += meta.Artifacts[i].RowCount
		meta.ByteSize += meta.Artifacts[i].ByteSize
	}
	meta.WrittenAt = r.clock.Now().UTC()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode load metadata: %w", err)
	}
	path := prefix + "/" + MetadataName
	if _, err := r.store.Write(ctx, path, bytes.NewReader(append(data, '\n'))); err != nil {
		return err
	}
	r.log.Info("recorded load metadata",
		"dataset", meta.Dataset, "load_date", meta.LoadDate, "artifacts", len(meta.Artifacts), "rows", meta.RowCount)
	return nil
}

// ReadMetadata loads the metadata record for a load partition.
func ReadMetadata(ctx context.Context, store storage.Store, prefix string) (*LoadMetadata, error) {
	data, err := storage.ReadAll(ctx, store, prefix+"/"+MetadataName)
	if err != nil {
		return nil, err
	}
	var meta LoadMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode load metadata: %w", err)
	}
	return &meta, nil
}

// Manifest is the Bronze checksum manifest contract.
type Manifest struct {
	Files map[string]string `json:"files"` // name -> sha256
}

// VerifyManifest re-checksums the Bronze partition's artifacts against its
// manifest. A mismatch is an IntegrityError: always surfaced, never
// silently repaired.
func (r *Recorder) VerifyManifest(ctx context.Context, prefix string, manifestPath string, artifacts []string) error {
	data, err := storage.ReadAll(ctx, r.store, manifestPath)
	if err != nil {
		return err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return &IntegrityError{Path: manifestPath, Reason: fmt.Sprintf("unreadable manifest: %v", err)}
	}

	for _, path := range artifacts {
		name := path[strings.LastIndex(path, "/")+1:]
		want, ok := manifest.Files[name]
		if !ok {
			return &IntegrityError{Path: path, Reason: "artifact not listed in checksum manifest"}
		}
		got, err := r.Checksum(ctx, path)
		if err != nil {
			return err
		}
		if got != want {
			return &IntegrityError{Path: path, Reason: fmt.Sprintf("checksum mismatch: manifest %s, computed %s", want, got)}
		}
	}
	r.log.Debug("bronze checksum verification passed", "prefix", prefix, "files", len(artifacts))
	return nil
}
