package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/internal/logger"
	"github.com/amillerrr/abr-pipeline/internal/metrics"
	"github.com/amillerrr/abr-pipeline/internal/queue"
	"github.com/amillerrr/abr-pipeline/internal/stability"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// Idle backoff defaults.
const (
	DefaultIdleBackoffMin = 250 * time.Millisecond
	DefaultIdleBackoffMax = 5 * time.Second
)

var tracer = otel.Tracer("abr-worker")

// Source supplies queued items.
type Source interface {
	Dequeue() (queue.Item, bool)
	Ready() <-chan struct{}
}

// Gate waits for a file to be completely written.
type Gate interface {
	Await(ctx context.Context, path string) (stability.Outcome, error)
}

// Prober describes a source file.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.SourceAsset, error)
}

// Transcoder produces the streaming outputs of an asset.
type Transcoder interface {
	Transcode(ctx context.Context, asset *models.SourceAsset, rungs []models.Profile, target models.TargetFormat, assetDir string) (*models.ManifestSet, error)
}

// Catalog records asset processing state.
type Catalog interface {
	StartProcessing(ctx context.Context, record *models.AssetRecord) error
	CompleteProcessing(ctx context.Context, assetID string, manifests *models.ManifestSet, partialErr string) error
	FailProcessing(ctx context.Context, assetID, errorMessage string) error
}

// Uploader publishes an asset directory.
type Uploader interface {
	Upload(ctx context.Context, assetID, assetDir string) error
}

// Publisher announces completed assets.
type Publisher interface {
	Publish(ctx context.Context, event *models.CompletionEvent) error
}

// Result is the final status of one processed item.
type Result string

const (
	ResultSuccess Result = "success"
	ResultPartial Result = "partial"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// Config holds worker dependencies. Catalog, Uploader and Publisher are
// optional.
type Config struct {
	Queue      Source
	Gate       Gate
	Prober     Prober
	Transcoder Transcoder
	Layout     *Layout
	Table      []models.Profile
	Target     models.TargetFormat

	Workers           int
	ReprocessExisting bool
	IdleBackoffMin    time.Duration
	IdleBackoffMax    time.Duration
	CDNDomain         string

	Catalog   Catalog
	Uploader  Uploader
	Publisher Publisher
	Logger    *slog.Logger
}

// Worker drains the ingest queue with a bounded pool of goroutines.
type Worker struct {
	cfg *Config
	log *slog.Logger
}

// New creates a new Worker with the given configuration.
func New(cfg *Config) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.IdleBackoffMin <= 0 {
		cfg.IdleBackoffMin = DefaultIdleBackoffMin
	}
	if cfg.IdleBackoffMax < cfg.IdleBackoffMin {
		cfg.IdleBackoffMax = cfg.IdleBackoffMin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{cfg: cfg, log: cfg.Logger}
}

// Run starts the pool and blocks until ctx is done and every in-flight item
// has finished. Items still queued at shutdown are left for the next rescan.
func (w *Worker) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "Starting workers",
		"workers", w.cfg.Workers,
		"target", w.cfg.Target,
		"output", w.cfg.Layout.Root(),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	w.log.InfoContext(ctx, "Waiting for in-progress jobs to complete...")
	wg.Wait()
	w.log.InfoContext(ctx, "All jobs completed, shutting down")
}

func (w *Worker) loop(ctx context.Context, id int) {
	backoff := w.cfg.IdleBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		item, ok := w.cfg.Queue.Dequeue()
		if !ok {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-w.cfg.Queue.Ready():
				timer.Stop()
				backoff = w.cfg.IdleBackoffMin
			case <-timer.C:
				backoff *= 2
				if backoff > w.cfg.IdleBackoffMax {
					backoff = w.cfg.IdleBackoffMax
				}
			}
			continue
		}

		backoff = w.cfg.IdleBackoffMin
		w.handle(ctx, id, item)
	}
}

// handle processes one item, isolating panics and errors from the pool.
func (w *Worker) handle(ctx context.Context, id int, item queue.Item) {
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordFailure()
			w.log.Error("Panic while processing asset",
				"worker", id,
				"source", item.Path,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	result, _ := w.Process(ctx, item)
	switch result {
	case ResultSuccess:
		metrics.RecordSuccess()
	case ResultPartial:
		metrics.RecordPartial()
	case ResultSkipped:
		metrics.RecordSkipped()
	default:
		metrics.RecordFailure()
	}
}

// Process runs one item through stability detection, probing, ladder
// selection, transcoding and publication. Waiting for stability stops when
// ctx ends; once transcoding starts the item runs to completion.
func (w *Worker) Process(ctx context.Context, item queue.Item) (Result, error) {
	log := w.log.With("source", item.Path)

	item.State = queue.StatePolling
	log.Debug("Waiting for source to become stable", "state", item.State)

	outcome, err := w.cfg.Gate.Await(ctx, item.Path)
	if err != nil {
		log.Info("Dropped asset during shutdown", "state", item.State, "error", err)
		return ResultSkipped, err
	}
	item.State = settledState(outcome)
	log = log.With("stability", item.State, "waited_ms", time.Since(item.DiscoveredAt).Milliseconds())

	switch outcome {
	case stability.Disappeared:
		log.Warn("Source disappeared before it became stable")
		return ResultSkipped, models.ErrFileDisappeared
	case stability.TimedOut:
		log.Warn("Source did not become stable before the timeout, processing anyway")
	}

	assetID := AssetID(item.Path)
	assetDir := w.cfg.Layout.AssetDir(item.Path)
	log = log.With("asset_id", assetID)

	if !w.cfg.ReprocessExisting && Completed(assetDir, w.cfg.Target) {
		log.Info("Asset already processed, skipping", "output", assetDir)
		return ResultSkipped, nil
	}

	jobCtx, span := tracer.Start(context.WithoutCancel(ctx), "process-asset")
	defer span.End()

	runID := uuid.New().String()
	span.SetAttributes(
		attribute.String("asset.id", assetID),
		attribute.String("asset.run_id", runID),
		attribute.String("asset.source", item.Path),
	)
	log = log.With("run_id", runID)
	start := time.Now()

	asset, err := w.cfg.Prober.Probe(jobCtx, item.Path)
	if err != nil {
		w.fail(jobCtx, log, span, assetID, err)
		return ResultFailed, err
	}

	rungs := ladder.Select(asset.Width, asset.Height, w.cfg.Table)
	metrics.LadderRungs.Observe(float64(len(rungs)))
	logger.Info(jobCtx, log, "Processing asset",
		"width", asset.Width,
		"height", asset.Height,
		"fps", asset.FPS,
		"has_audio", asset.HasAudio,
		"ladder", strings.Join(ladder.Names(rungs), ","),
	)

	w.startCatalog(jobCtx, log, &models.AssetRecord{
		AssetID:         assetID,
		RunID:           runID,
		SourcePath:      item.Path,
		Width:           asset.Width,
		Height:          asset.Height,
		DurationSeconds: asset.Duration,
		Ladder:          rungs,
	})

	if err := w.cfg.Layout.Prepare(assetDir); err != nil {
		w.fail(jobCtx, log, span, assetID, err)
		return ResultFailed, err
	}

	manifests, transcodeErr := w.cfg.Transcoder.Transcode(jobCtx, asset, rungs, w.cfg.Target, assetDir)
	if manifests == nil || (manifests.MasterPlaylistPath == "" && manifests.DASHManifestPath == "") {
		if transcodeErr == nil {
			transcodeErr = fmt.Errorf("%w: no manifests produced", models.ErrEncodeFailed)
		}
		w.fail(jobCtx, log, span, assetID, transcodeErr)
		return ResultFailed, transcodeErr
	}

	errs := []error{transcodeErr}
	if w.cfg.Uploader != nil {
		if err := w.cfg.Uploader.Upload(jobCtx, assetID, assetDir); err != nil {
			logger.Error(jobCtx, log, "Failed to upload asset", "error", err)
			errs = append(errs, err)
		}
	}
	partialErr := errors.Join(errs...)

	partialMsg := ""
	if partialErr != nil {
		partialMsg = partialErr.Error()
		span.RecordError(partialErr)
	}

	if w.cfg.Catalog != nil {
		if err := w.cfg.Catalog.CompleteProcessing(jobCtx, assetID, manifests, partialMsg); err != nil {
			logger.Warn(jobCtx, log, "Failed to mark asset as completed", "error", err)
		}
	}

	w.publish(jobCtx, log, &models.CompletionEvent{
		AssetID:     assetID,
		RunID:       runID,
		SourcePath:  item.Path,
		Manifests:   *manifests,
		PlaybackURL: w.playbackURL(assetID, assetDir, manifests),
		Renditions:  ladder.Names(rungs),
		Error:       partialMsg,
	})

	duration := time.Since(start)
	metrics.ProcessingDuration.WithLabelValues(string(w.cfg.Target)).Observe(duration.Seconds())

	if partialErr != nil {
		logger.Warn(jobCtx, log, "Asset processed with errors",
			"hls", manifests.MasterPlaylistPath,
			"dash", manifests.DASHManifestPath,
			"duration_ms", duration.Milliseconds(),
			"error", partialErr,
		)
		return ResultPartial, partialErr
	}

	logger.Info(jobCtx, log, "Asset processed successfully",
		"hls", manifests.MasterPlaylistPath,
		"dash", manifests.DASHManifestPath,
		"duration_ms", duration.Milliseconds(),
	)
	return ResultSuccess, nil
}

// settledState maps a finished stability wait onto the queue item state.
func settledState(outcome stability.Outcome) queue.StabilityState {
	switch outcome {
	case stability.Stable:
		return queue.StateStable
	case stability.TimedOut:
		return queue.StateTimedOut
	default:
		return queue.StateDisappeared
	}
}

func (w *Worker) startCatalog(ctx context.Context, log *slog.Logger, record *models.AssetRecord) {
	if w.cfg.Catalog == nil {
		return
	}
	if err := w.cfg.Catalog.StartProcessing(ctx, record); err != nil {
		logger.Warn(ctx, log, "Failed to record asset as processing", "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, span trace.Span, assetID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "asset failed")

	if w.cfg.Catalog != nil {
		if catErr := w.cfg.Catalog.FailProcessing(ctx, assetID, err.Error()); catErr != nil {
			logger.Warn(ctx, log, "Failed to mark asset as failed", "error", catErr)
		}
	}
	logger.Error(ctx, log, "Asset processing failed", "error", err)
}

func (w *Worker) publish(ctx context.Context, log *slog.Logger, event *models.CompletionEvent) {
	if w.cfg.Publisher == nil {
		return
	}
	if err := w.cfg.Publisher.Publish(ctx, event); err != nil {
		logger.Warn(ctx, log, "Failed to publish completion event", "error", err)
	}
}

// playbackURL points at the preferred manifest on the CDN, or is empty when
// no CDN is configured.
func (w *Worker) playbackURL(assetID, assetDir string, manifests *models.ManifestSet) string {
	if w.cfg.CDNDomain == "" {
		return ""
	}
	path := manifests.MasterPlaylistPath
	if path == "" {
		path = manifests.DASHManifestPath
	}
	rel, err := filepath.Rel(assetDir, path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://%s/%s", w.cfg.CDNDomain, ObjectKey(assetID, rel))
}
