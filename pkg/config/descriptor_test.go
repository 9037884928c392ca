package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validStateDescriptor() DatasetDescriptor {
	return DatasetDescriptor{
		Domain:       "sales",
		Entity:       "orders",
		Version:      1,
		EntityKind:   EntityKindState,
		HistoryMode:  HistorySCD2,
		Model:        ModelSCDType2,
		BusinessKeys: []string{"order_id"},
		OrderColumn:  "updated_at",
	}
}

func TestFoundry_Config_Validate(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid state descriptor", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		require.NoError(t, desc.Validate())
		require.Equal(t, SchemaStrict, desc.SchemaPolicy)
		require.Equal(t, ErrorFailFast, desc.ErrorPolicy.Mode)
		require.Equal(t, FormatNDJSON, desc.Format)
		require.Equal(t, 50000, desc.ChunkMaxRows)
		require.Equal(t, "load_date", desc.PathKeys.LoadDateKey)
	})

	t.Run("requires identity fields", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.Domain = ""
		err := desc.Validate()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "domain", cfgErr.Field)
	})

	t.Run("requires business keys for state models", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.BusinessKeys = nil
		err := desc.Validate()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "business_keys", cfgErr.Field)
	})

	t.Run("requires order column for dedupe models", func(t *testing.T) {
		t.Parallel()
		for _, model := range []Model{ModelSCDType1, ModelSCDType2, ModelFullMergeDedupe} {
			desc := validStateDescriptor()
			desc.HistoryMode = HistoryNone
			desc.Model = model
			desc.OrderColumn = ""
			err := desc.Validate()
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr, "model %s", model)
			require.Equal(t, "order_column", cfgErr.Field)
		}
	})

	t.Run("rejects record-time partitioning for current-state-only modes", func(t *testing.T) {
		t.Parallel()
		for _, mode := range []HistoryMode{HistorySCD1, HistoryLatestOnly} {
			desc := validStateDescriptor()
			desc.HistoryMode = mode
			desc.Model = ModelSCDType1
			desc.PartitionBy = []string{"updated_dt"}
			err := desc.Validate()
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr, "history_mode %s", mode)
			require.Equal(t, "partition_by", cfgErr.Field)
		}
	})

	t.Run("allows record-time partitioning for scd2", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.PartitionBy = []string{"effective_from_dt"}
		require.NoError(t, desc.Validate())
	})

	t.Run("rejects unknown enum values", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.SchemaPolicy = "permissive"
		err := desc.Validate()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "schema_policy", cfgErr.Field)
	})

	t.Run("rejects out-of-range error thresholds", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.ErrorPolicy.MaxBadPercent = 250
		err := desc.Validate()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "error_policy.max_bad_percent", cfgErr.Field)
	})

	t.Run("defaults the model from entity kind and history mode", func(t *testing.T) {
		t.Parallel()
		desc := validStateDescriptor()
		desc.Model = ""
		require.NoError(t, desc.Validate())
		require.Equal(t, ModelSCDType2, desc.Model)

		desc = validStateDescriptor()
		desc.Model = ""
		desc.HistoryMode = HistoryLatestOnly
		require.NoError(t, desc.Validate())
		require.Equal(t, ModelSCDType1, desc.Model)

		desc = validStateDescriptor()
		desc.Model = ""
		desc.EntityKind = EntityKindEvent
		desc.HistoryMode = HistoryNone
		require.NoError(t, desc.Validate())
		require.Equal(t, ModelIncrementalMerge, desc.Model)
	})
}

func TestFoundry_Config_ParseModel(t *testing.T) {
	t.Parallel()

	t.Run("normalizes aliases", func(t *testing.T) {
		t.Parallel()
		for alias, want := range map[string]Model{
			"scd1":              ModelSCDType1,
			"SCD_TYPE_2":        ModelSCDType2,
			"full_merge":        ModelFullMergeDedupe,
			"incremental":       ModelIncrementalMerge,
			"periodic_snapshot": ModelPeriodicSnapshot,
		} {
			got, err := ParseModel(alias)
			require.NoError(t, err, "alias %q", alias)
			require.Equal(t, want, got)
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		t.Parallel()
		_, err := ParseModel("scd_type_3")
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestFoundry_Config_Parse(t *testing.T) {
	t.Parallel()

	t.Run("decodes and validates YAML", func(t *testing.T) {
		t.Parallel()
		desc, err := Parse([]byte(`
domain: sales
entity: orders
version: 2
entity_kind: state
history_mode: scd2
model: scd2
business_keys: [order_id]
order_column: updated_at
schema_policy: lenient
error_policy:
  mode: continue
  max_bad_records: 10
  max_bad_percent: 1.5
chunk_max_rows: 1000
format: csv
`))
		require.NoError(t, err)
		require.Equal(t, "sales.orders", desc.ID())
		require.Equal(t, ModelSCDType2, desc.Model)
		require.Equal(t, SchemaLenient, desc.SchemaPolicy)
		require.Equal(t, ErrorContinue, desc.ErrorPolicy.Mode)
		require.Equal(t, FormatCSV, desc.Format)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("domain: a\nentity: b\nentity_kind: event\nnot_a_field: 1\n"))
		require.Error(t, err)
	})

	t.Run("surfaces validation failures", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte(`
domain: sales
entity: orders
entity_kind: state
history_mode: scd1
model: scd1
business_keys: [order_id]
order_column: updated_at
partition_by: [updated_dt]
`))
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "partition_by", cfgErr.Field)
	})
}
