package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonysebion/bronze-foundry/pkg/foundrytest"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

func writeDescriptor(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFoundry_RunLoads_JobAbort(t *testing.T) {
	t.Parallel()

	log := foundrytest.NewLogger()
	loadDate := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	newStores := func(t *testing.T) (storage.Store, storage.Store) {
		bronze, err := storage.NewLocal(storage.LocalConfig{Logger: log, Root: t.TempDir()})
		require.NoError(t, err)
		silverStore, err := storage.NewLocal(storage.LocalConfig{Logger: log, Root: t.TempDir()})
		require.NoError(t, err)
		return bronze, silverStore
	}

	seedBronze := func(t *testing.T, bronze storage.Store, system, table string) {
		path := "system=" + system + "/table=" + table + "/dt=2026-04-15/part-0000.ndjson"
		_, err := bronze.Write(context.Background(), path,
			strings.NewReader(`{"order_id":"o1","ordered_at":"2026-04-15T09:00:00Z"}`+"\n"))
		require.NoError(t, err)
	}

	// The first dataset's bronze partition is never seeded, so its load
	// fails; the second is always loadable.
	failing := `domain: sales
entity: orders
source_system: erp
source_table: orders
entity_kind: event
record_time_column: ordered_at
schema_policy: auto
`
	healthy := `domain: sales
entity: refunds
source_system: erp
source_table: refunds
entity_kind: event
record_time_column: ordered_at
schema_policy: auto
`

	t.Run("a failed dataset is isolated from its siblings", func(t *testing.T) {
		t.Parallel()
		bronze, silverStore := newStores(t)
		seedBronze(t, bronze, "erp", "refunds")
		dir := t.TempDir()
		paths := []string{
			writeDescriptor(t, dir, "orders.yaml", failing),
			writeDescriptor(t, dir, "refunds.yaml", healthy),
		}

		var captured int
		err := runLoads(context.Background(), log, bronze, silverStore, paths, loadDate, 1, func(error) { captured++ })
		require.ErrorContains(t, err, "1 of 2 dataset loads failed")
		require.Equal(t, 1, captured)

		// The healthy dataset still promoted.
		ok, err := silverStore.Exists(context.Background(),
			"domain=sales/entity=refunds/v1/load_date=2026-04-15/_metadata.json")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("job_abort stops the remaining loads", func(t *testing.T) {
		t.Parallel()
		bronze, silverStore := newStores(t)
		seedBronze(t, bronze, "erp", "refunds")
		dir := t.TempDir()
		paths := []string{
			writeDescriptor(t, dir, "orders.yaml", failing+"error_policy:\n  job_abort: true\n"),
			writeDescriptor(t, dir, "refunds.yaml", healthy),
		}

		err := runLoads(context.Background(), log, bronze, silverStore, paths, loadDate, 1, nil)
		require.ErrorContains(t, err, "job_abort")
		require.ErrorContains(t, err, "skipping 1 remaining")

		// The sibling never ran.
		got, err := silverStore.List(context.Background(), "domain=sales/entity=refunds")
		require.NoError(t, err)
		require.Empty(t, got)
	})
}
