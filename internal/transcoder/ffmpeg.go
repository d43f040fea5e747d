package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/amillerrr/abr-pipeline/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// maxDiagnosticLines bounds the stderr tail kept for failure reports.
const maxDiagnosticLines = 20

// FFmpegGateway executes jobs with the ffmpeg binary.
type FFmpegGateway struct {
	bin    string
	logger *slog.Logger
}

// NewFFmpegGateway creates a gateway. An empty bin uses "ffmpeg" from PATH.
func NewFFmpegGateway(bin string, logger *slog.Logger) *FFmpegGateway {
	if bin == "" {
		bin = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegGateway{bin: bin, logger: logger}
}

// Args renders a job into ffmpeg command-line arguments.
func Args(job *JobSpec) []string {
	args := []string{
		"-hide_banner", "-y",
		"-i", job.InputPath,
		"-filter_complex", job.FilterGraph,
	}

	for _, m := range job.VideoMaps {
		args = append(args, "-map", m)
	}
	for _, m := range job.AudioMaps {
		args = append(args, "-map", m)
	}

	for i, v := range job.Video {
		args = append(args,
			fmt.Sprintf("-c:v:%d", i), v.Codec,
			fmt.Sprintf("-b:v:%d", i), v.Profile.VideoBitrate,
			fmt.Sprintf("-maxrate:v:%d", i), v.Profile.MaxBitrate,
			fmt.Sprintf("-bufsize:v:%d", i), v.Profile.BufferSize,
			fmt.Sprintf("-profile:v:%d", i), v.H264Profile,
		)
	}
	if job.Preset != "" {
		args = append(args, "-preset", job.Preset)
	}

	t := job.Temporal
	args = append(args,
		"-g", strconv.Itoa(t.GOP),
		"-keyint_min", strconv.Itoa(t.KeyintMin),
		"-sc_threshold", strconv.Itoa(t.SceneCutThreshold),
		"-force_key_frames", t.ForceKeyFrames,
	)

	if len(job.Audio) == 0 {
		args = append(args, "-an")
	}
	for i, a := range job.Audio {
		args = append(args,
			fmt.Sprintf("-c:a:%d", i), a.Codec,
			fmt.Sprintf("-b:a:%d", i), a.Bitrate,
			fmt.Sprintf("-ac:a:%d", i), strconv.Itoa(a.Channels),
			fmt.Sprintf("-ar:a:%d", i), strconv.Itoa(a.SampleRate),
		)
	}

	switch {
	case job.HLS != nil:
		h := job.HLS
		args = append(args,
			"-f", "hls",
			"-hls_time", strconv.Itoa(t.SegmentDuration),
			"-hls_playlist_type", h.PlaylistType,
			"-hls_list_size", "0",
			"-hls_segment_type", "mpegts",
			"-hls_segment_filename", h.SegmentPattern,
			"-master_pl_name", h.MasterPlaylistName,
			"-var_stream_map", h.VarStreamMap,
			h.PlaylistPattern,
		)
	case job.DASH != nil:
		d := job.DASH
		args = append(args,
			"-f", "dash",
			"-seg_duration", strconv.Itoa(t.SegmentDuration),
			"-use_template", boolFlag(d.UseTemplate),
			"-use_timeline", boolFlag(d.UseTimeline),
			"-init_seg_name", d.InitSegmentName,
			"-media_seg_name", d.MediaSegmentName,
			"-adaptation_sets", d.AdaptationSets,
			d.ManifestPath,
		)
	}

	return args
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// CommandLine renders bin and args as a shell command, quoting arguments
// that contain whitespace or shell metacharacters.
func CommandLine(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(bin))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$;[]()*?&|<>") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// Execute runs the job to completion and verifies its artifacts.
func (g *FFmpegGateway) Execute(ctx context.Context, job *JobSpec) (*RenditionSet, error) {
	ctx, span := tracer.Start(ctx, "ffmpeg-execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.format", string(job.Format)),
		attribute.Int("job.rungs", len(job.Video)),
		attribute.Bool("job.fallback", job.Fallback),
	)

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return nil, &EncodeFailure{Format: job.Format, ExitCode: -1, Diagnostic: err.Error()}
	}

	args := Args(job)
	g.logger.Debug("Starting encoder", "job_id", job.ID, "format", job.Format, "command", CommandLine(g.bin, args))

	cmd := exec.CommandContext(ctx, g.bin, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &EncodeFailure{Format: job.Format, ExitCode: -1, Diagnostic: err.Error()}
	}

	tail := newTailBuffer(maxDiagnosticLines)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		g.monitorOutput(job, stderrPipe, tail)
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s job: %v", models.ErrContextCanceled, job.Format, ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(cmdErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		diagnostic := tail.String()
		if diagnostic == "" {
			diagnostic = cmdErr.Error()
		}
		span.SetAttributes(attribute.Int("job.exit_code", exitCode))
		return nil, &EncodeFailure{Format: job.Format, ExitCode: exitCode, Diagnostic: diagnostic}
	}

	return collectArtifacts(job)
}

// monitorOutput logs encoder progress and keeps the diagnostic tail.
func (g *FFmpegGateway) monitorOutput(job *JobSpec, r io.Reader, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
			g.logger.Debug("FFmpeg progress", "job_id", job.ID, "output", line)
			continue
		}
		tail.Add(line)
		if strings.Contains(line, "error") || strings.Contains(line, "Error") {
			g.logger.Warn("FFmpeg warning", "job_id", job.ID, "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		g.logger.Warn("FFmpeg output scanner error", "job_id", job.ID, "error", err)
	}
}

// collectArtifacts checks the expected outputs exist and gathers segments.
func collectArtifacts(job *JobSpec) (*RenditionSet, error) {
	for _, out := range job.Outputs {
		if info, err := os.Stat(out); err != nil || info.Size() == 0 {
			return nil, &EncodeFailure{
				Format:     job.Format,
				ExitCode:   0,
				Diagnostic: fmt.Sprintf("expected artifact missing: %s", out),
			}
		}
	}

	set := &RenditionSet{Format: job.Format}
	for i, v := range job.Video {
		r := models.Rendition{Profile: v.Profile, StreamIndex: i}
		switch job.Format {
		case models.FormatHLS:
			dir := filepath.Join(job.OutputDir, v.Profile.Name)
			r.PlaylistPath = filepath.Join(dir, hlsPlaylistName)
			r.SegmentPaths = glob(filepath.Join(dir, "segment_*.ts"))
		case models.FormatDASH:
			r.SegmentPaths = glob(filepath.Join(job.OutputDir, fmt.Sprintf("chunk-%d-*.m4s", i)))
		}
		set.Renditions = append(set.Renditions, r)
	}
	if job.DASH != nil {
		set.ManifestPath = job.DASH.ManifestPath
	}
	if job.HLS != nil {
		set.ManifestPath = filepath.Join(job.OutputDir, job.HLS.MasterPlaylistName)
	}
	return set, nil
}

func glob(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
