package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

func validConfig() *Config {
	cfg := Load()
	cfg.Paths.InputDir = "/data/in"
	cfg.Paths.OutputDir = "/data/out"
	return cfg
}

func TestLoad(t *testing.T) {
	t.Setenv("INPUT_DIR", "/watch")
	t.Setenv("OUTPUT_DIR", "/publish")
	t.Setenv("TARGET_FORMAT", "DASH")
	t.Setenv("SEGMENT_DURATION", "4")
	t.Setenv("PROFILES", "240p, 720p")
	t.Setenv("STABILITY_TIMEOUT", "90")
	t.Setenv("STABILITY_INTERVAL", "500ms")
	t.Setenv("MAX_CONCURRENT_JOBS", "3")

	cfg := Load()

	if cfg.Paths.InputDir != "/watch" {
		t.Errorf("InputDir = %v, want /watch", cfg.Paths.InputDir)
	}
	if cfg.Encoding.Target != models.TargetDASH {
		t.Errorf("Target = %v, want dash", cfg.Encoding.Target)
	}
	if cfg.Encoding.SegmentDuration != 4 {
		t.Errorf("SegmentDuration = %d, want 4", cfg.Encoding.SegmentDuration)
	}
	if len(cfg.Encoding.ProfileNames) != 2 || cfg.Encoding.ProfileNames[1] != "720p" {
		t.Errorf("ProfileNames = %v, want [240p 720p]", cfg.Encoding.ProfileNames)
	}
	if cfg.Stability.Timeout != 90*time.Second {
		t.Errorf("Stability.Timeout = %v, want 90s", cfg.Stability.Timeout)
	}
	if cfg.Stability.Interval != 500*time.Millisecond {
		t.Errorf("Stability.Interval = %v, want 500ms", cfg.Stability.Interval)
	}
	if cfg.Worker.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Worker.Workers)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Encoding.Target != models.TargetBoth {
		t.Errorf("Target = %v, want both", cfg.Encoding.Target)
	}
	if cfg.Encoding.SegmentDuration != DefaultSegmentDuration {
		t.Errorf("SegmentDuration = %d, want %d", cfg.Encoding.SegmentDuration, DefaultSegmentDuration)
	}
	if cfg.Stability.RequiredSamples != 10 || cfg.Stability.Interval != time.Second || cfg.Stability.Timeout != 300*time.Second {
		t.Errorf("Stability = %+v, want 1s/10/300s", cfg.Stability)
	}
	if cfg.UsesAWS() {
		t.Error("UsesAWS() = true with no AWS targets")
	}
}

func TestValidate_AllPresent(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing input", func(c *Config) { c.Paths.InputDir = "" }},
		{"same dirs", func(c *Config) { c.Paths.OutputDir = "/data/in/" }},
		{"bad target", func(c *Config) { c.Encoding.Target = "smooth" }},
		{"zero segment", func(c *Config) { c.Encoding.SegmentDuration = 0 }},
		{"unknown profile", func(c *Config) { c.Encoding.ProfileNames = []string{"8k"} }},
		{"missing profile file", func(c *Config) { c.Encoding.ProfilesFile = "/nonexistent/profiles.toml" }},
		{"zero workers", func(c *Config) { c.Worker.Workers = 0 }},
		{"zero samples", func(c *Config) { c.Stability.RequiredSamples = 0 }},
		{"inverted backoff", func(c *Config) { c.Worker.IdleBackoffMax = time.Millisecond }},
		{"cdn without bucket", func(c *Config) { c.AWS.CDNDomain = "cdn.test" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, models.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("Failed to write executable: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX executables")
	}
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	writeExecutable(t, ffmpeg)
	writeExecutable(t, ffprobe)

	cfg := validConfig()
	cfg.Encoding.FFmpegBin = ffmpeg
	cfg.Encoding.FFprobeBin = ffprobe
	if err := cfg.CheckBinaries(); err != nil {
		t.Errorf("CheckBinaries() unexpected error = %v", err)
	}
}

func TestCheckBinaries_Missing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX executables")
	}
	dir := t.TempDir()
	ffprobe := filepath.Join(dir, "ffprobe")
	writeExecutable(t, ffprobe)

	cfg := validConfig()
	cfg.Encoding.FFmpegBin = filepath.Join(dir, "missing-ffmpeg")
	cfg.Encoding.FFprobeBin = ffprobe

	err := cfg.CheckBinaries()
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("CheckBinaries() error = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(err.Error(), "FFMPEG_BIN") || strings.Contains(err.Error(), "FFPROBE_BIN") {
		t.Errorf("CheckBinaries() error = %v, want only FFMPEG_BIN reported", err)
	}
}

func TestProfileTable(t *testing.T) {
	cfg := validConfig()
	cfg.Encoding.ProfileNames = []string{"1080p", "360p"}

	table, err := cfg.ProfileTable()
	if err != nil {
		t.Fatalf("ProfileTable() error = %v", err)
	}
	if len(table) != 2 || table[0].Name != "360p" || table[1].Name != "1080p" {
		t.Errorf("ProfileTable() = %v, want [360p 1080p]", table)
	}
}

func TestProfileTable_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	content := `
[[profile]]
name = "sd"
width = 640
height = 360
video_bitrate = "700k"
max_bitrate = "770k"
buffer_size = "1M"
audio_bitrate = "96k"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write profiles: %v", err)
	}

	cfg := validConfig()
	cfg.Encoding.ProfilesFile = path

	table, err := cfg.ProfileTable()
	if err != nil {
		t.Fatalf("ProfileTable() error = %v", err)
	}
	if len(table) != 1 || table[0].Name != "sd" {
		t.Errorf("ProfileTable() = %v, want [sd]", table)
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"prod", true},
		{"production", true},
		{"PROD", true},
		{"dev", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	result := SplitList("a, b,, c ")
	if len(result) != 3 || result[0] != "a" || result[1] != "b" || result[2] != "c" {
		t.Errorf("SplitList() = %v, want [a b c]", result)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")

	if result := getEnvInt("TEST_INT", 10); result != 42 {
		t.Errorf("getEnvInt() = %d, want 42", result)
	}
	if result := getEnvInt("NONEXISTENT", 10); result != 10 {
		t.Errorf("getEnvInt() = %d, want 10", result)
	}

	t.Setenv("TEST_INT", "-3")
	if result := getEnvInt("TEST_INT", 10); result != 10 {
		t.Errorf("getEnvInt() negative = %d, want default 10", result)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "bogus")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration(bogus) = %v, want 1s", got)
	}

	t.Setenv("TEST_DURATION", "2m")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 2*time.Minute {
		t.Errorf("getEnvDuration(2m) = %v, want 2m", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool(true) = false")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool(maybe) = true, want default")
	}
}
