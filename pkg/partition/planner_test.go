package partition

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/foundrytest"
	"github.com/tonysebion/bronze-foundry/pkg/integrity"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

func loadDate(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
}

func plannerDescriptor(t *testing.T) *config.DatasetDescriptor {
	t.Helper()
	desc := &config.DatasetDescriptor{
		Domain:           "sales",
		Entity:           "orders",
		SourceSystem:     "erp",
		SourceTable:      "orders",
		EntityKind:       config.EntityKindEvent,
		Model:            config.ModelPeriodicSnapshot,
		RecordTimeColumn: "ordered_at",
	}
	require.NoError(t, desc.Validate())
	return desc
}

func newBronze(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocal(storage.LocalConfig{Logger: foundrytest.NewLogger(), Root: t.TempDir()})
	require.NoError(t, err)
	return store
}

func put(t *testing.T, store storage.Store, path, body string) {
	t.Helper()
	_, err := store.Write(context.Background(), path, strings.NewReader(body))
	require.NoError(t, err)
}

func TestFoundry_Partition_Paths(t *testing.T) {
	t.Parallel()

	date := loadDate(t)

	t.Run("bronze path", func(t *testing.T) {
		t.Parallel()
		ref := BronzeRef{System: "erp", Table: "orders", Pattern: "daily", Date: date, Keys: config.DefaultPathKeys()}
		require.Equal(t, "system=erp/table=orders/pattern=daily/dt=2026-04-15", ref.RelativePath())
	})

	t.Run("silver path without pattern folder", func(t *testing.T) {
		t.Parallel()
		ref := SilverRef{Domain: "sales", Entity: "orders", Version: 2, LoadDate: date, Keys: config.DefaultPathKeys()}
		require.Equal(t, "domain=sales/entity=orders/v2", ref.DatasetPath())
		require.Equal(t, "domain=sales/entity=orders/v2/load_date=2026-04-15", ref.BasePath())
	})

	t.Run("silver path with pattern folder", func(t *testing.T) {
		t.Parallel()
		ref := SilverRef{
			Domain: "sales", Entity: "orders", Version: 1,
			Pattern: "daily", IncludePattern: true,
			LoadDate: date, Keys: config.DefaultPathKeys(),
		}
		require.Equal(t, "domain=sales/entity=orders/v1/pattern=daily/load_date=2026-04-15", ref.BasePath())
	})
}

func TestFoundry_Partition_Resolve(t *testing.T) {
	t.Parallel()

	bronzePrefix := "system=erp/table=orders/dt=2026-04-15"

	newPlanner := func(t *testing.T, store storage.Store) *Planner {
		t.Helper()
		p, err := NewPlanner(PlannerConfig{Logger: foundrytest.NewLogger(), Bronze: store})
		require.NoError(t, err)
		return p
	}

	t.Run("lists data artifacts and finds the manifest", func(t *testing.T) {
		t.Parallel()
		store := newBronze(t)
		put(t, store, bronzePrefix+"/part-0001.csv", "a\n1\n")
		put(t, store, bronzePrefix+"/part-0000.csv", "a\n0\n")
		put(t, store, bronzePrefix+"/"+integrity.ManifestName, "{}")
		put(t, store, bronzePrefix+"/_SUCCESS", "")
		put(t, store, bronzePrefix+"/.hidden", "")

		plan, err := newPlanner(t, store).Resolve(context.Background(), plannerDescriptor(t), loadDate(t))
		require.NoError(t, err)
		require.Len(t, plan.Inputs, 1)
		input := plan.Inputs[0]
		require.Equal(t, []string{
			bronzePrefix + "/part-0000.csv",
			bronzePrefix + "/part-0001.csv",
		}, input.Artifacts)
		require.Equal(t, bronzePrefix+"/"+integrity.ManifestName, input.Manifest)
		require.Equal(t, "domain=sales/entity=orders/v1/load_date=2026-04-15", plan.Output.BasePath())
	})

	t.Run("empty partition fails unless allowed", func(t *testing.T) {
		t.Parallel()
		store := newBronze(t)
		_, err := newPlanner(t, store).Resolve(context.Background(), plannerDescriptor(t), loadDate(t))
		require.ErrorIs(t, err, storage.ErrNotFound)

		desc := plannerDescriptor(t)
		desc.AllowEmptyLoad = true
		plan, err := newPlanner(t, store).Resolve(context.Background(), desc, loadDate(t))
		require.NoError(t, err)
		require.Empty(t, plan.Inputs[0].Artifacts)
	})

	t.Run("missing manifest is an integrity error when required", func(t *testing.T) {
		t.Parallel()
		store := newBronze(t)
		put(t, store, bronzePrefix+"/part-0000.csv", "a\n0\n")

		desc := plannerDescriptor(t)
		desc.RequireChecksum = true
		_, err := newPlanner(t, store).Resolve(context.Background(), desc, loadDate(t))
		var intErr *integrity.IntegrityError
		require.ErrorAs(t, err, &intErr)
	})
}

func TestFoundry_Partition_ResolveColumns(t *testing.T) {
	t.Parallel()

	t.Run("event datasets partition by the record time date", func(t *testing.T) {
		t.Parallel()
		desc := plannerDescriptor(t)
		cols, err := ResolvePartitionColumns(desc)
		require.NoError(t, err)
		require.Equal(t, []string{"ordered_at_dt"}, cols)
	})

	t.Run("explicit partition_by wins", func(t *testing.T) {
		t.Parallel()
		desc := plannerDescriptor(t)
		desc.PartitionBy = []string{"region"}
		require.NoError(t, desc.Validate())
		cols, err := ResolvePartitionColumns(desc)
		require.NoError(t, err)
		require.Equal(t, []string{"region"}, cols)
	})

	t.Run("current-state models never partition", func(t *testing.T) {
		t.Parallel()
		desc := &config.DatasetDescriptor{
			Domain:       "sales",
			Entity:       "customers",
			EntityKind:   config.EntityKindState,
			HistoryMode:  config.HistoryLatestOnly,
			Model:        config.ModelFullMergeDedupe,
			BusinessKeys: []string{"customer_id"},
			OrderColumn:  "updated_at",
		}
		require.NoError(t, desc.Validate())
		cols, err := ResolvePartitionColumns(desc)
		require.NoError(t, err)
		require.Empty(t, cols)
	})

	t.Run("scd2 partitions by validity start date", func(t *testing.T) {
		t.Parallel()
		desc := &config.DatasetDescriptor{
			Domain:       "sales",
			Entity:       "customers",
			EntityKind:   config.EntityKindState,
			HistoryMode:  config.HistorySCD2,
			Model:        config.ModelSCDType2,
			BusinessKeys: []string{"customer_id"},
			OrderColumn:  "updated_at",
		}
		require.NoError(t, desc.Validate())
		cols, err := ResolvePartitionColumns(desc)
		require.NoError(t, err)
		require.Equal(t, []string{"effective_from_dt"}, cols)
	})
}
