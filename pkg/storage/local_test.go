package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonysebion/bronze-foundry/pkg/foundrytest"
)

func testLocal(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(LocalConfig{
		Logger: foundrytest.NewLogger(),
		Root:   t.TempDir(),
	})
	require.NoError(t, err)
	return store
}

func TestFoundry_Storage_Local_NewLocal(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		t.Run("missing logger", func(t *testing.T) {
			t.Parallel()
			store, err := NewLocal(LocalConfig{Root: t.TempDir()})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "logger is required")
		})

		t.Run("missing root", func(t *testing.T) {
			t.Parallel()
			store, err := NewLocal(LocalConfig{Logger: foundrytest.NewLogger()})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "root directory is required")
		})
	})
}

func TestFoundry_Storage_Local_WriteOpenList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testLocal(t)

	n, err := store.Write(ctx, "domain=sales/entity=orders/part-00000.ndjson", strings.NewReader("hello\n"))
	require.NoError(t, err)
	require.Equal(t, int64(6), n)

	data, err := ReadAll(ctx, store, "domain=sales/entity=orders/part-00000.ndjson")
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	_, err = store.Write(ctx, "domain=sales/entity=orders/part-00001.ndjson", strings.NewReader("x"))
	require.NoError(t, err)

	paths, err := store.List(ctx, "domain=sales")
	require.NoError(t, err)
	require.Equal(t, []string{
		"domain=sales/entity=orders/part-00000.ndjson",
		"domain=sales/entity=orders/part-00001.ndjson",
	}, paths)

	ok, err := store.Exists(ctx, "domain=sales/entity=orders/part-00000.ndjson")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Exists(ctx, "domain=sales/entity=orders/part-00099.ndjson")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFoundry_Storage_Local_OpenMissingReturnsNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testLocal(t)

	_, err := store.Open(ctx, "nope/missing.ndjson")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFoundry_Storage_Local_ListMissingPrefixIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testLocal(t)

	paths, err := store.List(ctx, "does/not/exist")
	require.NoError(t, err)
	require.Empty(t, paths)
}

func TestFoundry_Storage_Local_Promote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("replaces the final prefix wholesale", func(t *testing.T) {
		t.Parallel()
		store := testLocal(t)

		// A previous load with more files than the new one
		_, err := store.Write(ctx, "final/load_date=2026-01-01/part-00000.ndjson", strings.NewReader("old-a"))
		require.NoError(t, err)
		_, err = store.Write(ctx, "final/load_date=2026-01-01/part-00001.ndjson", strings.NewReader("old-b"))
		require.NoError(t, err)

		_, err = store.Write(ctx, "staging/op-1/part-00000.ndjson", strings.NewReader("new"))
		require.NoError(t, err)

		require.NoError(t, store.Promote(ctx, "staging/op-1", "final/load_date=2026-01-01"))

		paths, err := store.List(ctx, "final/load_date=2026-01-01")
		require.NoError(t, err)
		require.Equal(t, []string{"final/load_date=2026-01-01/part-00000.ndjson"}, paths)

		data, err := ReadAll(ctx, store, "final/load_date=2026-01-01/part-00000.ndjson")
		require.NoError(t, err)
		require.Equal(t, "new", string(data))

		// Staging is gone
		paths, err = store.List(ctx, "staging/op-1")
		require.NoError(t, err)
		require.Empty(t, paths)
	})

	t.Run("fails when staging prefix is missing", func(t *testing.T) {
		t.Parallel()
		store := testLocal(t)
		err := store.Promote(ctx, "staging/ghost", "final/x")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFoundry_Storage_Local_WriteReplacesExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testLocal(t)

	_, err := store.Write(ctx, "a/b.txt", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "a/b.txt", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := ReadAll(ctx, store, "a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
