package probe

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "12.5"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2}
  ],
  "format": {"duration": "12.512000"}
}`

func TestParseProbeOutput(t *testing.T) {
	asset, err := parseProbeOutput("in.mp4", []byte(sampleOutput))
	if err != nil {
		t.Fatalf("parseProbeOutput() error = %v", err)
	}

	if asset.Path != "in.mp4" {
		t.Errorf("Path = %s, want in.mp4", asset.Path)
	}
	if asset.Width != 1920 || asset.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", asset.Width, asset.Height)
	}
	if math.Abs(asset.FPS-29.97) > 0.01 {
		t.Errorf("FPS = %f, want ~29.97", asset.FPS)
	}
	if asset.Duration != 12.512 {
		t.Errorf("Duration = %f, want 12.512", asset.Duration)
	}
	if !asset.HasAudio {
		t.Error("HasAudio = false, want true")
	}
}

func TestParseProbeOutput_NoAudioDefaultFPS(t *testing.T) {
	out := `{"streams": [{"codec_type": "video", "width": 640, "height": 360, "r_frame_rate": "0/0"}],
	         "format": {}}`

	asset, err := parseProbeOutput("silent.mov", []byte(out))
	if err != nil {
		t.Fatalf("parseProbeOutput() error = %v", err)
	}
	if asset.HasAudio {
		t.Error("HasAudio = true, want false")
	}
	if asset.FPS != DefaultFPS {
		t.Errorf("FPS = %f, want %f", asset.FPS, DefaultFPS)
	}
	if asset.Duration != 0 {
		t.Errorf("Duration = %f, want 0", asset.Duration)
	}
}

func TestParseProbeOutput_Errors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"invalid json", `not json`},
		{"audio only", `{"streams": [{"codec_type": "audio"}], "format": {"duration": "3"}}`},
		{"no streams", `{"streams": [], "format": {}}`},
		{"zero dimensions", `{"streams": [{"codec_type": "video", "width": 0, "height": 0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProbeOutput("x.mp4", []byte(tt.output))
			if !errors.Is(err, models.ErrProbeFailed) {
				t.Errorf("parseProbeOutput() error = %v, want ErrProbeFailed", err)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"60000/1000", 60},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
		{"abc", 0},
	}

	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestFFProbe_MissingBinary(t *testing.T) {
	p := NewFFProbe("/nonexistent/ffprobe-binary", nil)
	_, err := p.Probe(context.Background(), "in.mp4")
	if !errors.Is(err, models.ErrProbeFailed) {
		t.Errorf("Probe() error = %v, want ErrProbeFailed", err)
	}
}
