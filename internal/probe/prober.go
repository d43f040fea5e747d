package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/amillerrr/abr-pipeline/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultFPS is assumed when the source does not report a usable frame rate.
const DefaultFPS = 25.0

var tracer = otel.Tracer("abr-probe")

// Prober inspects a source file.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.SourceAsset, error)
}

// FFProbe probes sources with the ffprobe binary.
type FFProbe struct {
	bin    string
	logger *slog.Logger
}

// NewFFProbe creates a prober. An empty bin uses "ffprobe" from PATH.
func NewFFProbe(bin string, logger *slog.Logger) *FFProbe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{bin: bin, logger: logger}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Probe runs ffprobe against path and returns its description.
func (p *FFProbe) Probe(ctx context.Context, path string) (*models.SourceAsset, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrContextCanceled, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%w: %s: %s", models.ErrProbeFailed, path, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", models.ErrProbeFailed, path, err)
	}

	asset, err := parseProbeOutput(path, output)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("source.width", asset.Width),
		attribute.Int("source.height", asset.Height),
		attribute.Bool("source.has_audio", asset.HasAudio),
	)
	if p.logger != nil {
		p.logger.Debug("Probed source",
			"path", path,
			"width", asset.Width,
			"height", asset.Height,
			"fps", asset.FPS,
			"duration", asset.Duration,
			"has_audio", asset.HasAudio,
		)
	}
	return asset, nil
}

func parseProbeOutput(path string, output []byte) (*models.SourceAsset, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(output, &ff); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid ffprobe output: %v", models.ErrProbeFailed, path, err)
	}

	asset := &models.SourceAsset{Path: path}
	foundVideo := false

	for _, s := range ff.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			asset.Width = s.Width
			asset.Height = s.Height
			asset.FPS = parseFrameRate(s.RFrameRate)
			if asset.FPS <= 0 {
				asset.FPS = parseFrameRate(s.AvgFrameRate)
			}
			if asset.Duration == 0 {
				asset.Duration = parseDuration(s.Duration)
			}
		case "audio":
			asset.HasAudio = true
		}
	}

	if !foundVideo {
		return nil, fmt.Errorf("%w: %s: no video stream", models.ErrProbeFailed, path)
	}
	if asset.Width <= 0 || asset.Height <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid video dimensions %dx%d",
			models.ErrProbeFailed, path, asset.Width, asset.Height)
	}
	if asset.FPS <= 0 {
		asset.FPS = DefaultFPS
	}
	if d := parseDuration(ff.Format.Duration); d > 0 {
		asset.Duration = d
	}

	return asset, nil
}

func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
