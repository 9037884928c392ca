package silver

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/schema"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

// artifactFormat resolves the decode format from the file extension,
// falling back to the dataset's configured format for unrecognized names.
func artifactFormat(path string, fallback config.ArtifactFormat) config.ArtifactFormat {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return config.FormatCSV
	case strings.HasSuffix(path, ".ndjson"), strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".json"):
		return config.FormatNDJSON
	default:
		return fallback
	}
}

// readArtifact decodes one artifact into raw rows. CSV values arrive as
// strings and NDJSON numbers as float64; typing them is the reconciler's
// job, not the reader's.
func readArtifact(ctx context.Context, store storage.Store, path string, format config.ArtifactFormat) ([]schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	switch format {
	case config.FormatCSV:
		return decodeCSV(rc, path)
	default:
		return decodeNDJSON(rc, path)
	}
}

func decodeCSV(r io.Reader, path string) ([]schema.Row, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header of %s: %w", path, err)
	}

	var rows []schema.Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv artifact %s: %w", path, err)
		}
		row := make(schema.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeNDJSON(r io.Reader, path string) ([]schema.Row, error) {
	dec := json.NewDecoder(r)
	var rows []schema.Row
	for {
		var row schema.Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode ndjson artifact %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
