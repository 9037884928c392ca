package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tonysebion/bronze-foundry/pkg/metrics"
)

// Local is a filesystem-backed Store rooted at a directory.
type Local struct {
	log  *slog.Logger
	root string
}

type LocalConfig struct {
	Logger *slog.Logger
	Root   string
}

func (cfg *LocalConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Root == "" {
		return errors.New("root directory is required")
	}
	return nil
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{log: cfg.Logger, root: cfg.Root}, nil
}

func (l *Local) Backend() string { return "local" }

func (l *Local) abs(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *Local) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	abs := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		metrics.StorageWritesTotal.WithLabelValues(l.Backend(), "error").Inc()
		return 0, &WriteFailure{Backend: l.Backend(), Path: path, Err: err}
	}

	// Write to a temp file in the same directory, then rename, so readers
	// never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		metrics.StorageWritesTotal.WithLabelValues(l.Backend(), "error").Inc()
		return 0, &WriteFailure{Backend: l.Backend(), Path: path, Err: err}
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), abs)
	}
	if err != nil {
		os.Remove(tmp.Name())
		metrics.StorageWritesTotal.WithLabelValues(l.Backend(), "error").Inc()
		return 0, &WriteFailure{Backend: l.Backend(), Path: path, Err: err}
	}
	metrics.StorageWritesTotal.WithLabelValues(l.Backend(), "ok").Inc()
	return n, nil
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := l.abs(prefix)
	var out []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.abs(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (l *Local) DeleteAll(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.abs(prefix)); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Promote replaces finalPrefix with stagingPrefix in a single rename, so a
// reader sees either the old load or the new one, never a mix.
func (l *Local) Promote(ctx context.Context, stagingPrefix, finalPrefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(stagingPrefix) == "" || strings.TrimSpace(finalPrefix) == "" {
		return errors.New("staging and final prefixes are required")
	}
	src := l.abs(stagingPrefix)
	dst := l.abs(finalPrefix)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("staging prefix %s: %w", stagingPrefix, ErrNotFound)
		}
		return fmt.Errorf("failed to stat staging prefix: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &WriteFailure{Backend: l.Backend(), Path: finalPrefix, Err: err}
	}
	if err := os.RemoveAll(dst); err != nil {
		return &WriteFailure{Backend: l.Backend(), Path: finalPrefix, Err: err}
	}
	if err := os.Rename(src, dst); err != nil {
		return &WriteFailure{Backend: l.Backend(), Path: finalPrefix, Err: err}
	}
	l.log.Debug("promoted staging prefix", "staging", stagingPrefix, "final", finalPrefix)
	return nil
}
