package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	Paths         PathsConfig
	Encoding      EncodingConfig
	Stability     StabilityConfig
	Worker        WorkerConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
}

// PathsConfig holds the watched input root and the output root.
type PathsConfig struct {
	InputDir  string
	OutputDir string
}

// EncodingConfig holds encoder and packaging configuration.
type EncodingConfig struct {
	Target            models.TargetFormat
	SegmentDuration   int
	ProfileNames      []string
	ProfilesFile      string
	FFmpegBin         string
	FFprobeBin        string
	Preset            string
	AudioBitrate      string
	ReprocessExisting bool
}

// StabilityConfig holds write-completion detection parameters.
type StabilityConfig struct {
	Interval        time.Duration
	RequiredSamples int
	Timeout         time.Duration
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	Workers        int
	MetricsPort    int
	IdleBackoffMin time.Duration
	IdleBackoffMax time.Duration
}

// AWSConfig holds optional publishing targets. Empty values disable them.
type AWSConfig struct {
	Region          string
	ProcessedBucket string
	NotifyQueueURL  string
	DynamoDBTable   string
	CDNDomain       string
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	TracingEnabled bool
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Format string
	Level  string
}

// Default values
const (
	DefaultInputDir          = "input"
	DefaultOutputDir         = "output"
	DefaultSegmentDuration   = 6
	DefaultTarget            = models.TargetBoth
	DefaultFFmpegBin         = "ffmpeg"
	DefaultFFprobeBin        = "ffprobe"
	DefaultPreset            = "veryfast"
	DefaultAudioBitrate      = "128k"
	DefaultWorkers           = 1
	DefaultMetricsPort       = 2112
	DefaultIdleBackoffMin    = 250 * time.Millisecond
	DefaultIdleBackoffMax    = 5 * time.Second
	DefaultStabilityInterval = time.Second
	DefaultStabilitySamples  = 10
	DefaultStabilityTimeout  = 300 * time.Second
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultRegion            = "us-west-2"
	DefaultLogFormat         = "auto"
	DefaultLogLevel          = "info"
)

// Load reads configuration from environment variables. Call Validate after
// applying command-line overrides.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENV", "dev"),
		Paths: PathsConfig{
			InputDir:  getEnv("INPUT_DIR", DefaultInputDir),
			OutputDir: getEnv("OUTPUT_DIR", DefaultOutputDir),
		},
		Encoding: EncodingConfig{
			Target:            models.TargetFormat(strings.ToLower(getEnv("TARGET_FORMAT", string(DefaultTarget)))),
			SegmentDuration:   getEnvInt("SEGMENT_DURATION", DefaultSegmentDuration),
			ProfileNames:      getEnvSlice("PROFILES", nil),
			ProfilesFile:      os.Getenv("PROFILES_FILE"),
			FFmpegBin:         getEnv("FFMPEG_BIN", DefaultFFmpegBin),
			FFprobeBin:        getEnv("FFPROBE_BIN", DefaultFFprobeBin),
			Preset:            getEnv("ENCODER_PRESET", DefaultPreset),
			AudioBitrate:      getEnv("AUDIO_BITRATE", DefaultAudioBitrate),
			ReprocessExisting: getEnvBool("REPROCESS_EXISTING", false),
		},
		Stability: StabilityConfig{
			Interval:        getEnvDuration("STABILITY_INTERVAL", DefaultStabilityInterval),
			RequiredSamples: getEnvInt("STABILITY_SAMPLES", DefaultStabilitySamples),
			Timeout:         getEnvDuration("STABILITY_TIMEOUT", DefaultStabilityTimeout),
		},
		Worker: WorkerConfig{
			Workers:        getEnvInt("MAX_CONCURRENT_JOBS", DefaultWorkers),
			MetricsPort:    getEnvInt("METRICS_PORT", DefaultMetricsPort),
			IdleBackoffMin: getEnvDuration("IDLE_BACKOFF_MIN", DefaultIdleBackoffMin),
			IdleBackoffMax: getEnvDuration("IDLE_BACKOFF_MAX", DefaultIdleBackoffMax),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", DefaultRegion),
			ProcessedBucket: os.Getenv("PROCESSED_BUCKET"),
			NotifyQueueURL:  os.Getenv("NOTIFY_QUEUE_URL"),
			DynamoDBTable:   os.Getenv("DYNAMODB_TABLE"),
			CDNDomain:       os.Getenv("CDN_DOMAIN"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		},
		Logging: LoggingConfig{
			Format: getEnv("LOG_FORMAT", DefaultLogFormat),
			Level:  getEnv("LOG_LEVEL", DefaultLogLevel),
		},
	}
}

// Validate checks the configuration required to run the orchestrator.
func (c *Config) Validate() error {
	var errs []string

	if c.Paths.InputDir == "" {
		errs = append(errs, "input directory is required")
	}
	if c.Paths.OutputDir == "" {
		errs = append(errs, "output directory is required")
	}
	if c.Paths.InputDir != "" && c.Paths.OutputDir != "" &&
		filepath.Clean(c.Paths.InputDir) == filepath.Clean(c.Paths.OutputDir) {
		errs = append(errs, "input and output directories must differ")
	}

	if _, err := models.ParseTargetFormat(string(c.Encoding.Target)); err != nil {
		errs = append(errs, fmt.Sprintf("TARGET_FORMAT must be hls, dash or both (got %q)", c.Encoding.Target))
	}
	if c.Encoding.SegmentDuration <= 0 {
		errs = append(errs, "SEGMENT_DURATION must be positive")
	}
	if c.Encoding.FFmpegBin == "" || c.Encoding.FFprobeBin == "" {
		errs = append(errs, "FFMPEG_BIN and FFPROBE_BIN are required")
	}
	if _, err := c.ProfileTable(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Stability.Interval <= 0 {
		errs = append(errs, "STABILITY_INTERVAL must be positive")
	}
	if c.Stability.RequiredSamples <= 0 {
		errs = append(errs, "STABILITY_SAMPLES must be positive")
	}
	if c.Stability.Timeout <= 0 {
		errs = append(errs, "STABILITY_TIMEOUT must be positive")
	}

	if c.Worker.Workers < 1 {
		errs = append(errs, "at least one worker is required")
	}
	if c.Worker.IdleBackoffMin <= 0 || c.Worker.IdleBackoffMax < c.Worker.IdleBackoffMin {
		errs = append(errs, "IDLE_BACKOFF_MIN must be positive and not exceed IDLE_BACKOFF_MAX")
	}

	if c.AWS.CDNDomain != "" && c.AWS.ProcessedBucket == "" {
		errs = append(errs, "CDN_DOMAIN requires PROCESSED_BUCKET")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// CheckBinaries verifies that the encoder and prober binaries can be run.
func (c *Config) CheckBinaries() error {
	var errs []string
	for _, b := range []struct{ env, bin string }{
		{"FFMPEG_BIN", c.Encoding.FFmpegBin},
		{"FFPROBE_BIN", c.Encoding.FFprobeBin},
	} {
		if _, err := exec.LookPath(b.bin); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q not found: %v", b.env, b.bin, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ProfileTable returns the rendition table: the TOML table when configured,
// otherwise the default, restricted to ProfileNames when set.
func (c *Config) ProfileTable() ([]models.Profile, error) {
	table := ladder.DefaultTable()
	if c.Encoding.ProfilesFile != "" {
		loaded, err := ladder.LoadTable(c.Encoding.ProfilesFile)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	return ladder.Subset(table, c.Encoding.ProfileNames)
}

// UsesAWS returns true if any AWS publishing target is configured.
func (c *Config) UsesAWS() bool {
	return c.AWS.ProcessedBucket != "" || c.AWS.NotifyQueueURL != "" || c.AWS.DynamoDBTable != ""
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or whole seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := SplitList(value); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
