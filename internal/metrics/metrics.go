package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator metrics
var (
	// AssetsProcessed counts processed assets by final status.
	AssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "assets_processed_total",
			Help:      "Total number of assets processed",
		},
		[]string{"status"},
	)

	// ProcessingDuration tracks the end-to-end time spent on an asset.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abr",
			Name:      "asset_processing_duration_seconds",
			Help:      "Time taken to process assets",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"target"},
	)

	// ActiveJobs tracks the number of assets currently owned by a worker.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "abr",
			Name:      "active_jobs",
			Help:      "Number of assets currently being processed",
		},
	)

	// QueueDepth tracks the number of pending ingest items.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "abr",
			Name:      "ingest_queue_depth",
			Help:      "Number of assets waiting in the ingest queue",
		},
	)

	// StabilityWait tracks the time spent waiting for files to settle.
	StabilityWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "abr",
			Name:      "stability_wait_seconds",
			Help:      "Time spent waiting for a file to be completely written",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
		},
	)

	// StabilityOutcomes counts stability gate outcomes.
	StabilityOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "stability_outcomes_total",
			Help:      "Stability gate outcomes",
		},
		[]string{"outcome"},
	)

	// LadderRungs tracks how many rungs are selected per asset.
	LadderRungs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "abr",
			Name:      "ladder_rungs",
			Help:      "Number of renditions selected per asset",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		},
	)

	// TranscodeDuration tracks encoder job duration by format.
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abr",
			Name:      "transcode_duration_seconds",
			Help:      "Time taken for encoder jobs",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"format"},
	)

	// EncodeFailures counts failed encoder jobs by format.
	EncodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "encode_failures_total",
			Help:      "Total number of failed encoder jobs",
		},
		[]string{"format"},
	)

	// DASHFallbacks counts single-rung DASH fallback attempts by result.
	DASHFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "dash_fallbacks_total",
			Help:      "Single-rung DASH fallback attempts",
		},
		[]string{"result"},
	)

	// UploadDuration tracks the time taken to publish output trees to S3.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "abr",
			Name:      "upload_duration_seconds",
			Help:      "Time taken to upload output trees to S3",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// WatcherErrors counts transient notifier errors.
	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "watcher_errors_total",
			Help:      "Total number of filesystem notifier errors",
		},
	)

	// FilesDiscovered counts paths accepted by the ingest queue by source.
	FilesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abr",
			Name:      "files_discovered_total",
			Help:      "Video files added to the ingest queue",
		},
		[]string{"source"},
	)
)

// RecordSuccess records a fully successful asset.
func RecordSuccess() {
	AssetsProcessed.WithLabelValues("success").Inc()
}

// RecordPartial records an asset where some requested formats failed.
func RecordPartial() {
	AssetsProcessed.WithLabelValues("partial").Inc()
}

// RecordFailure records a failed asset.
func RecordFailure() {
	AssetsProcessed.WithLabelValues("failed").Inc()
}

// RecordSkipped records an asset that was abandoned or already complete.
func RecordSkipped() {
	AssetsProcessed.WithLabelValues("skipped").Inc()
}

// RecordStability records a stability gate outcome.
func RecordStability(outcome string) {
	StabilityOutcomes.WithLabelValues(outcome).Inc()
}

// RecordFallback records a DASH fallback attempt result.
func RecordFallback(succeeded bool) {
	if succeeded {
		DASHFallbacks.WithLabelValues("success").Inc()
		return
	}
	DASHFallbacks.WithLabelValues("failed").Inc()
}
