// Package storage provides the read/write capability the Silver engine
// writes through. Artifacts land in a staging prefix and become visible
// only when Promote succeeds.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound reports a missing object or prefix.
var ErrNotFound = errors.New("object not found")

// WriteFailure reports a transient storage error. The engine signals it
// upward; retry/backoff happens inside the backend.
type WriteFailure struct {
	Backend string
	Path    string
	Err     error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("storage write failed (%s) at %s: %v", e.Backend, e.Path, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// Store is the abstract storage capability. Paths are slash-separated and
// relative to the backend's root.
type Store interface {
	// Write stores the full contents of r at path, replacing any existing
	// object. Returns the number of bytes written.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns all object paths under prefix, sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	// DeleteAll removes every object under prefix. Missing prefixes are not
	// an error.
	DeleteAll(ctx context.Context, prefix string) error
	// Promote atomically replaces finalPrefix with the contents of
	// stagingPrefix. After a successful Promote the staging prefix is gone.
	Promote(ctx context.Context, stagingPrefix, finalPrefix string) error
	Backend() string
}

// ReadAll reads the full object at path.
func ReadAll(ctx context.Context, s Store, path string) ([]byte, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
