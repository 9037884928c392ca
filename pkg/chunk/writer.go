// Package chunk streams transformed rows into bounded-memory partition
// buffers and flushes durable artifacts into the staging area.
package chunk

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/metrics"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

// FlushStats is emitted as each partition buffer flush completes.
type FlushStats struct {
	Partition string
	Artifact  string
	RowCount  int
	ByteSize  int64
}

// Artifact records one written file for the integrity stage.
type Artifact struct {
	Path      string
	Partition string
	RowCount  int
	ByteSize  int64
}

type WriterConfig struct {
	Logger  *slog.Logger
	Store   storage.Store
	Dataset *config.DatasetDescriptor
	// BasePrefix is the staging prefix for the load; the writer never
	// touches the visible path.
	BasePrefix       string
	PartitionColumns []string
	// Columns fixes the CSV column order. Ignored for NDJSON.
	Columns []string
	OnFlush func(FlushStats)
}

func (cfg *WriterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Dataset == nil {
		return errors.New("dataset descriptor is required")
	}
	if cfg.BasePrefix == "" {
		return errors.New("base prefix is required")
	}
	if cfg.Dataset.Format == config.FormatCSV && len(cfg.Columns) == 0 {
		return errors.New("columns are required for csv output")
	}
	return nil
}

// Writer buffers rows per resolved record-time partition key. A buffer
// flushes when it reaches the row cap, when the partition key changes in
// sorted input, when it crosses the artifact size threshold, or at end of
// stream. Not safe for concurrent use.
type Writer struct {
	log     *slog.Logger
	store   storage.Store
	dataset *config.DatasetDescriptor
	cfg     WriterConfig

	current   string // current partition segment, "" until first row
	started   bool
	buf       *partitionBuffer
	fileSeq   map[string]int
	artifacts []Artifact
}

type partitionBuffer struct {
	partition string
	raw       bytes.Buffer
	csv       *csv.Writer
	rows      int
}

func NewWriter(cfg WriterConfig) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		log:     cfg.Logger,
		store:   cfg.Store,
		dataset: cfg.Dataset,
		cfg:     cfg,
		fileSeq: make(map[string]int),
	}, nil
}

// Write appends one row to the buffer for its partition.
func (w *Writer) Write(ctx context.Context, row schema.Row) error {
	partition, err := w.partitionSegment(row)
	if err != nil {
		return err
	}

	if w.started && partition != w.current {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	if !w.started || partition != w.current {
		w.current = partition
		w.started = true
		w.buf = w.newBuffer(partition)
	}

	if err := w.encode(row); err != nil {
		return err
	}
	w.buf.rows++

	if w.buf.rows >= w.dataset.ChunkMaxRows {
		return w.flush(ctx)
	}
	if w.dataset.MaxArtifactBytes > 0 && int64(w.buf.raw.Len()) >= w.dataset.MaxArtifactBytes {
		return w.flush(ctx)
	}
	return nil
}

// Close flushes the remaining buffer. The writer cannot be reused.
func (w *Writer) Close(ctx context.Context) error {
	if w.buf != nil && w.buf.rows > 0 {
		return w.flush(ctx)
	}
	return nil
}

// Artifacts lists everything written, in flush order.
func (w *Writer) Artifacts() []Artifact {
	return w.artifacts
}

func (w *Writer) newBuffer(partition string) *partitionBuffer {
	buf := &partitionBuffer{partition: partition}
	if w.dataset.Format == config.FormatCSV {
		buf.csv = csv.NewWriter(&buf.raw)
		buf.csv.Write(w.cfg.Columns)
	}
	return buf
}

func (w *Writer) encode(row schema.Row) error {
	switch w.dataset.Format {
	case config.FormatCSV:
		record := make([]string, len(w.cfg.Columns))
		for i, col := range w.cfg.Columns {
			record[i] = formatValue(row[col])
		}
		return w.buf.csv.Write(record)
	default:
		enc := json.NewEncoder(&w.buf.raw)
		return enc.Encode(row)
	}
}

func (w *Writer) flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := w.buf
	if buf == nil || buf.rows == 0 {
		return nil
	}
	if buf.csv != nil {
		buf.csv.Flush()
		if err := buf.csv.Error(); err != nil {
			return fmt.Errorf("failed to encode csv buffer: %w", err)
		}
	}

	seq := w.fileSeq[buf.partition]
	w.fileSeq[buf.partition] = seq + 1

	ext := "ndjson"
	if w.dataset.Format == config.FormatCSV {
		ext = "csv"
	}
	name := fmt.Sprintf("part-%05d.%s", seq, ext)
	path := w.cfg.BasePrefix
	if buf.partition != "" {
		path += "/" + buf.partition
	}
	path += "/" + name

	size := int64(buf.raw.Len())
	if _, err := w.store.Write(ctx, path, bytes.NewReader(buf.raw.Bytes())); err != nil {
		metrics.PartitionFlushTotal.WithLabelValues(w.dataset.ID(), "error").Inc()
		return err
	}
	metrics.PartitionFlushTotal.WithLabelValues(w.dataset.ID(), "ok").Inc()

	artifact := Artifact{Path: path, Partition: buf.partition, RowCount: buf.rows, ByteSize: size}
	w.artifacts = append(w.artifacts, artifact)
	if w.cfg.OnFlush != nil {
		w.cfg.OnFlush(FlushStats{Partition: buf.partition, Artifact: path, RowCount: buf.rows, ByteSize: size})
	}
	w.log.Debug("flushed partition buffer",
		"dataset", w.dataset.ID(), "partition", buf.partition, "artifact", path, "rows", buf.rows, "bytes", size)

	w.buf = w.newBuffer(buf.partition)
	return nil
}

func (w *Writer) partitionSegment(row schema.Row) (string, error) {
	return PartitionSegment(row, w.cfg.PartitionColumns)
}

// PartitionSegment resolves the record-time partition path segment for a
// row. A `*_dt` partition column missing from the row is derived from its
// source column's date. Empty when the dataset resolves no partition
// columns.
func PartitionSegment(row schema.Row, cols []string) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		val, err := partitionValue(row, col)
		if err != nil {
			return "", err
		}
		parts[i] = col + "=" + val
	}
	return strings.Join(parts, "/"), nil
}

func partitionValue(row schema.Row, col string) (string, error) {
	if v, ok := row[col]; ok && v != nil {
		return formatPartitionValue(v), nil
	}
	if source, ok := strings.CutSuffix(col, "_dt"); ok {
		if v, present := row[source]; present && v != nil {
			if t, isTime := v.(time.Time); isTime {
				return t.UTC().Format("2006-01-02"), nil
			}
			return formatPartitionValue(v), nil
		}
	}
	return "", &config.ConfigurationError{
		Field:  "partition_by",
		Reason: fmt.Sprintf("partition column %q missing from output rows and not derivable", col),
	}
}

func formatPartitionValue(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format("2006-01-02")
	}
	return formatValue(v)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}
