package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bronze_foundry_build_info",
			Help: "Build information of the bronze-foundry Silver engine",
		},
		[]string{"version", "commit", "date"},
	)

	RowsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_rows_processed_total",
			Help: "Total number of rows processed by the Silver pipeline",
		},
		[]string{"dataset", "stage"},
	)

	BadRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_bad_records_total",
			Help: "Total number of rows rejected by schema validation or coercion",
		},
		[]string{"dataset", "reason"},
	)

	SchemaCoercionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_schema_coercions_total",
			Help: "Total number of value coercions performed under the auto schema policy",
		},
		[]string{"dataset", "column"},
	)

	PartitionFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_partition_flush_total",
			Help: "Total number of partition buffer flushes",
		},
		[]string{"dataset", "status"},
	)

	MergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bronze_foundry_merge_duration_seconds",
			Help:    "Duration of the merge stage per load",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"dataset", "model"},
	)

	LoadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_load_total",
			Help: "Total number of Silver load runs",
		},
		[]string{"dataset", "status"},
	)

	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bronze_foundry_load_duration_seconds",
			Help:    "Duration of Silver load runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
		[]string{"dataset"},
	)

	PromoteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_promote_total",
			Help: "Total number of staging promotions to the visible Silver path",
		},
		[]string{"dataset", "status"},
	)

	StorageWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bronze_foundry_storage_writes_total",
			Help: "Total number of storage backend writes",
		},
		[]string{"backend", "status"},
	)
)
