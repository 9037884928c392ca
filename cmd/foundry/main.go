package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/tonysebion/bronze-foundry/pkg/config"
	"github.com/tonysebion/bronze-foundry/pkg/logger"
	"github.com/tonysebion/bronze-foundry/pkg/metrics"
	"github.com/tonysebion/bronze-foundry/pkg/silver"
	"github.com/tonysebion/bronze-foundry/pkg/storage"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	datasetFlags := flag.StringArray("dataset", nil, "path to a dataset descriptor yaml file (repeatable)")
	loadDateFlag := flag.String("load-date", "", "load date to promote (YYYY-MM-DD, default: today UTC, or set LOAD_DATE env var)")
	bronzeRootFlag := flag.String("bronze-root", "", "bronze root: a local directory or s3://bucket/prefix (or set BRONZE_ROOT env var)")
	silverRootFlag := flag.String("silver-root", "", "silver root: a local directory or s3://bucket/prefix (or set SILVER_ROOT env var)")
	workersFlag := flag.Int("workers", 4, "concurrent bronze artifact reads per dataset")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to serve prometheus metrics on (empty = disabled)")
	sentryDSNFlag := flag.String("sentry-dsn", "", "sentry DSN for error reporting (or set SENTRY_DSN env var)")

	flag.Parse()

	// Local development convenience; a missing .env file is not an error.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("LOAD_DATE"); env != "" && *loadDateFlag == "" {
		*loadDateFlag = env
	}
	if env := os.Getenv("BRONZE_ROOT"); env != "" && *bronzeRootFlag == "" {
		*bronzeRootFlag = env
	}
	if env := os.Getenv("SILVER_ROOT"); env != "" && *silverRootFlag == "" {
		*silverRootFlag = env
	}
	if env := os.Getenv("SENTRY_DSN"); env != "" && *sentryDSNFlag == "" {
		*sentryDSNFlag = env
	}

	if len(*datasetFlags) == 0 {
		return fmt.Errorf("at least one --dataset descriptor is required")
	}
	if *bronzeRootFlag == "" {
		return fmt.Errorf("--bronze-root is required")
	}
	if *silverRootFlag == "" {
		return fmt.Errorf("--silver-root is required")
	}

	loadDate := time.Now().UTC().Truncate(24 * time.Hour)
	if *loadDateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *loadDateFlag)
		if err != nil {
			return fmt.Errorf("invalid --load-date %q (use YYYY-MM-DD): %w", *loadDateFlag, err)
		}
		loadDate = parsed
	}

	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     *sentryDSNFlag,
			Release: version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddrFlag, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("serving metrics", "addr", *metricsAddrFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bronze, err := openStore(ctx, log, *bronzeRootFlag)
	if err != nil {
		return fmt.Errorf("failed to open bronze store: %w", err)
	}
	silverStore, err := openStore(ctx, log, *silverRootFlag)
	if err != nil {
		return fmt.Errorf("failed to open silver store: %w", err)
	}

	return runLoads(ctx, log, bronze, silverStore, *datasetFlags, loadDate, *workersFlag, func(err error) {
		if *sentryDSNFlag != "" {
			sentry.CaptureException(err)
		}
	})
}

// runLoads promotes every descriptor for the load date. Failures are
// isolated per dataset, unless the failed dataset sets
// error_policy.job_abort, which stops the remaining loads.
func runLoads(ctx context.Context, log *slog.Logger, bronze, silverStore storage.Store, paths []string, loadDate time.Time, workers int, onError func(error)) error {
	var failed int
	for i, path := range paths {
		desc, err := runDataset(ctx, log, bronze, silverStore, path, loadDate, workers)
		if err == nil {
			continue
		}
		if onError != nil {
			onError(err)
		}
		log.Error("dataset load failed", "descriptor", path, "load_date", loadDate.Format("2006-01-02"), "error", err)
		failed++
		if desc != nil && desc.ErrorPolicy.JobAbort {
			return fmt.Errorf("dataset %s failed with job_abort set, skipping %d remaining loads: %w",
				desc.ID(), len(paths)-i-1, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dataset loads failed", failed, len(paths))
	}
	return nil
}

func runDataset(ctx context.Context, log *slog.Logger, bronze, silverStore storage.Store, path string, loadDate time.Time, workers int) (*config.DatasetDescriptor, error) {
	desc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	job, err := silver.NewJob(silver.Config{
		Logger:  log,
		Bronze:  bronze,
		Silver:  silverStore,
		Dataset: desc,
		Workers: workers,
	})
	if err != nil {
		return desc, err
	}
	report, err := job.Run(ctx, loadDate)
	if err != nil {
		return desc, err
	}
	log.Info("dataset load complete",
		"dataset", desc.ID(),
		"load_date", loadDate.Format("2006-01-02"),
		"op_id", report.OpID,
		"rows_in", report.RowsIn,
		"rows_bad", report.RowsBad,
		"rows_out", report.RowsOut,
	)
	return desc, nil
}

// openStore resolves a root into a storage backend: s3://bucket/prefix for
// S3, anything else is a local directory.
func openStore(ctx context.Context, log *slog.Logger, root string) (storage.Store, error) {
	if rest, ok := strings.CutPrefix(root, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid s3 root %q: missing bucket", root)
		}
		return storage.NewS3FromEnv(ctx, log, bucket, prefix)
	}
	return storage.NewLocal(storage.LocalConfig{Logger: log, Root: root})
}
