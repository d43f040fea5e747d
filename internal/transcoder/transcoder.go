package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amillerrr/abr-pipeline/internal/manifest"
	"github.com/amillerrr/abr-pipeline/internal/metrics"
	"github.com/amillerrr/abr-pipeline/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Output subdirectories of an asset directory.
const (
	HLSDir  = "hls"
	DASHDir = "dash"
)

var tracer = otel.Tracer("abr-transcoder")

// Config holds configuration for the transcoder.
type Config struct {
	Gateway Gateway
	Plan    PlanOptions
	Logger  *slog.Logger
}

// Transcoder turns a probed source and its ladder into streaming outputs.
type Transcoder struct {
	config *Config
}

// NewTranscoder creates a new Transcoder with the given configuration.
func NewTranscoder(config *Config) *Transcoder {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Plan.Logger == nil {
		config.Plan.Logger = config.Logger
	}
	return &Transcoder{config: config}
}

// Transcode produces every format in target under assetDir. Formats fail
// independently: the returned ManifestSet holds whatever succeeded and the
// error joins the failures.
func (t *Transcoder) Transcode(ctx context.Context, asset *models.SourceAsset, rungs []models.Profile, target models.TargetFormat, assetDir string) (*models.ManifestSet, error) {
	ctx, span := tracer.Start(ctx, "transcode")
	defer span.End()

	span.SetAttributes(
		attribute.String("asset.path", asset.Path),
		attribute.String("target", string(target)),
		attribute.Int("ladder.rungs", len(rungs)),
	)

	formats := target.Formats()
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidFormat, target)
	}

	set := &models.ManifestSet{}
	var errs []error

	for _, format := range formats {
		switch format {
		case models.FormatHLS:
			path, err := t.TranscodeHLS(ctx, asset, rungs, filepath.Join(assetDir, HLSDir))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			set.MasterPlaylistPath = path
		case models.FormatDASH:
			path, err := t.TranscodeDASH(ctx, asset, rungs, filepath.Join(assetDir, DASHDir))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			set.DASHManifestPath = path
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "one or more formats failed")
	}
	return set, err
}

// TranscodeHLS runs the HLS job and authors the master playlist. HLS has no
// fallback: either every rung is produced or the format fails.
func (t *Transcoder) TranscodeHLS(ctx context.Context, asset *models.SourceAsset, rungs []models.Profile, hlsDir string) (string, error) {
	ctx, span := tracer.Start(ctx, "transcode-hls")
	defer span.End()

	start := time.Now()
	log := t.config.Logger.With("source", asset.Path, "format", models.FormatHLS)

	job, err := PlanHLS(asset, rungs, hlsDir, t.config.Plan)
	if err != nil {
		return "", err
	}
	if err := manifest.CreateOutputDirectories(hlsDir, rungs); err != nil {
		return "", err
	}

	set, err := t.config.Gateway.Execute(ctx, job)
	if err != nil {
		metrics.EncodeFailures.WithLabelValues(string(models.FormatHLS)).Inc()
		span.RecordError(err)
		log.Error("HLS encode failed", "job_id", job.ID, "error", err)
		return "", err
	}

	masterPath, err := manifest.WriteMasterPlaylist(hlsDir, set.Renditions)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	metrics.TranscodeDuration.WithLabelValues(string(models.FormatHLS)).Observe(time.Since(start).Seconds())
	log.Info("HLS output complete",
		"job_id", job.ID,
		"renditions", len(set.Renditions),
		"master", masterPath,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return masterPath, nil
}

// TranscodeDASH runs the full DASH job. If it fails, a single-rung
// video-only job is tried; if that fails too, the original failure is
// returned.
func (t *Transcoder) TranscodeDASH(ctx context.Context, asset *models.SourceAsset, rungs []models.Profile, dashDir string) (string, error) {
	ctx, span := tracer.Start(ctx, "transcode-dash")
	defer span.End()

	start := time.Now()
	log := t.config.Logger.With("source", asset.Path, "format", models.FormatDASH)

	if err := os.MkdirAll(dashDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create DASH dir: %w", err)
	}

	job, err := PlanDASH(asset, rungs, dashDir, t.config.Plan)
	if err != nil {
		return "", err
	}

	set, origErr := t.config.Gateway.Execute(ctx, job)
	if origErr != nil {
		metrics.EncodeFailures.WithLabelValues(string(models.FormatDASH)).Inc()
		span.RecordError(origErr)
		if errors.Is(origErr, models.ErrContextCanceled) {
			return "", origErr
		}
		log.Warn("DASH encode failed, trying single-rung fallback", "job_id", job.ID, "error", origErr)

		fallback, err := PlanDASHFallback(asset, rungs, dashDir, t.config.Plan)
		if err != nil {
			return "", origErr
		}
		set, err = t.config.Gateway.Execute(ctx, fallback)
		if err != nil {
			metrics.RecordFallback(false)
			log.Error("DASH fallback failed", "job_id", fallback.ID, "error", err)
			return "", origErr
		}
		metrics.RecordFallback(true)
		span.SetAttributes(attribute.Bool("dash.fallback", true))
		log.Warn("DASH produced with single-rung fallback",
			"job_id", fallback.ID,
			"profile", fallback.Video[0].Profile.Name,
		)
	}

	if err := manifest.ValidateDASHManifest(set.ManifestPath); err != nil {
		span.RecordError(err)
		return "", err
	}

	metrics.TranscodeDuration.WithLabelValues(string(models.FormatDASH)).Observe(time.Since(start).Seconds())
	log.Info("DASH output complete",
		"manifest", set.ManifestPath,
		"representations", len(set.Renditions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return set.ManifestPath, nil
}
