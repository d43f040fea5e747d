package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/config"
	"github.com/amillerrr/abr-pipeline/internal/health"
	"github.com/amillerrr/abr-pipeline/internal/logger"
	"github.com/amillerrr/abr-pipeline/internal/notify"
	"github.com/amillerrr/abr-pipeline/internal/observability"
	"github.com/amillerrr/abr-pipeline/internal/probe"
	"github.com/amillerrr/abr-pipeline/internal/queue"
	"github.com/amillerrr/abr-pipeline/internal/stability"
	"github.com/amillerrr/abr-pipeline/internal/storage"
	"github.com/amillerrr/abr-pipeline/internal/transcoder"
	"github.com/amillerrr/abr-pipeline/internal/watcher"
	"github.com/amillerrr/abr-pipeline/internal/worker"
)

const (
	serviceName       = "abrd"
	ShutdownTimeout   = 5 * time.Second
	ReadHeaderTimeout = 10 * time.Second
)

type startFlags struct {
	encodingFlags
	input   string
	output  string
	workers int
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.input, "input", "", "Directory to watch for source videos")
	cmd.Flags().StringVar(&f.output, "output", "", "Directory receiving the encoded outputs")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Number of concurrent encodes")
	f.encodingFlags.register(cmd)
}

func (f *startFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f.encodingFlags.apply(cmd, cfg)
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Paths.InputDir = f.input
	}
	if flags.Changed("output") {
		cfg.Paths.OutputDir = f.output
	}
	if flags.Changed("workers") {
		cfg.Worker.Workers = f.workers
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	flags := &startFlags{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Watch the input tree and transcode new videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.load()
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runService(cmd.Context(), cfg, ctx.log)
		},
	}

	flags.register(cmd)

	return cmd
}

// runService runs the orchestrator until SIGINT or SIGTERM. In-flight items
// finish before it returns.
func runService(parent context.Context, cfg *config.Config, log *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.CheckBinaries(); err != nil {
		return err
	}
	table, err := cfg.ProfileTable()
	if err != nil {
		return err
	}

	layout := worker.NewLayout(cfg.Paths.OutputDir)
	if err := layout.EnsureRoot(); err != nil {
		return err
	}
	lock := flock.New(layout.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock output directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("output directory %s is in use by another instance", layout.Root())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn(context.Background(), log, "Failed to release output lock", "error", err)
		}
	}()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(context.Background(), log, "Failed to shutdown tracer", "error", err)
		}
	}()

	ingest := queue.New()

	workerCfg := &worker.Config{
		Queue: ingest,
		Gate: stability.NewGate(&stability.Config{
			Interval:        cfg.Stability.Interval,
			RequiredSamples: cfg.Stability.RequiredSamples,
			Timeout:         cfg.Stability.Timeout,
			Logger:          log,
		}),
		Prober: probe.NewFFProbe(cfg.Encoding.FFprobeBin, log),
		Transcoder: transcoder.NewTranscoder(&transcoder.Config{
			Gateway: transcoder.NewFFmpegGateway(cfg.Encoding.FFmpegBin, log),
			Plan: transcoder.PlanOptions{
				SegmentDuration: cfg.Encoding.SegmentDuration,
				Preset:          cfg.Encoding.Preset,
				AudioBitrate:    cfg.Encoding.AudioBitrate,
			},
			Logger: log,
		}),
		Layout:            layout,
		Table:             table,
		Target:            cfg.Encoding.Target,
		Workers:           cfg.Worker.Workers,
		ReprocessExisting: cfg.Encoding.ReprocessExisting,
		IdleBackoffMin:    cfg.Worker.IdleBackoffMin,
		IdleBackoffMax:    cfg.Worker.IdleBackoffMax,
		Logger:            log,
	}

	healthCfg := health.DefaultConfig(serviceName, log)
	healthCfg.OutputDir = layout.Root()
	healthCfg.EncoderBin = cfg.Encoding.FFmpegBin
	healthCfg.Queue = ingest

	if cfg.UsesAWS() {
		if err := wireAWS(ctx, cfg, log, workerCfg, healthCfg); err != nil {
			return err
		}
	}

	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, health.NewChecker(healthCfg), log)

	w, err := newInputWatcher(cfg.Paths.InputDir, ingest, log)
	if err != nil {
		return err
	}
	found, err := w.Rescan()
	if err != nil {
		logger.Warn(ctx, log, "Startup rescan incomplete", "error", err)
	}
	logger.Info(ctx, log, "Startup rescan complete", "files", found, "input", cfg.Paths.InputDir)

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- w.Run(ctx)
	}()

	worker.New(workerCfg).Run(ctx)

	if err := <-watchDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(context.Background(), log, "Watcher stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), log, "Failed to shutdown metrics server", "error", err)
	}

	logger.Info(context.Background(), log, "Orchestrator stopped", "dropped", ingest.Len())
	return nil
}

// newInputWatcher creates the input root when missing and watches it.
func newInputWatcher(root string, q watcher.Enqueuer, log *slog.Logger) (*watcher.Watcher, error) {
	if err := watcher.EnsureRoot(root); err != nil {
		return nil, err
	}
	return watcher.New(root, q, log)
}

// wireAWS attaches the optional catalog, uploader and publisher.
func wireAWS(ctx context.Context, cfg *config.Config, log *slog.Logger, workerCfg *worker.Config, healthCfg *health.Config) error {
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	clients := storage.NewClients(awsCfg, cfg)

	if clients.DynamoDB != nil {
		repo, err := storage.NewAssetRepository(clients.DynamoDB, cfg.AWS.DynamoDBTable)
		if err != nil {
			return err
		}
		workerCfg.Catalog = repo
		healthCfg.DynamoDBClient = clients.DynamoDB
		healthCfg.DynamoDBTable = cfg.AWS.DynamoDBTable
	}
	if clients.S3 != nil {
		workerCfg.Uploader = worker.NewS3Uploader(clients.S3, cfg.AWS.ProcessedBucket, log)
		workerCfg.CDNDomain = cfg.AWS.CDNDomain
		healthCfg.S3Client = clients.S3
		healthCfg.S3Bucket = cfg.AWS.ProcessedBucket
	}
	if clients.SQS != nil {
		publisher, err := notify.NewSQSPublisher(clients.SQS, cfg.AWS.NotifyQueueURL)
		if err != nil {
			return err
		}
		workerCfg.Publisher = publisher
		healthCfg.SQSClient = clients.SQS
		healthCfg.SQSQueueURL = cfg.AWS.NotifyQueueURL
	}

	logger.Info(ctx, log, "AWS publishing enabled",
		"bucket", cfg.AWS.ProcessedBucket,
		"table", cfg.AWS.DynamoDBTable,
		"queue", cfg.AWS.NotifyQueueURL,
	)
	return nil
}

func newMetricsMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())
	return mux
}

func startMetricsServer(port int, checker *health.Checker, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newMetricsMux(checker),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	go func() {
		logger.Info(context.Background(), log, "Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), log, "Metrics server error", "error", err)
		}
	}()

	return server
}
