package transcoder

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/pkg/models"
	"github.com/google/uuid"
)

// Planner defaults.
const (
	DefaultSegmentDuration = 6
	DefaultPreset          = "veryfast"
	DefaultAudioBitrate    = "128k"
	DefaultFPS             = 25.0

	videoCodec       = "libx264"
	h264Profile      = "main"
	audioCodec       = "aac"
	audioChannels    = 2
	audioSampleRate  = 48000
	hlsPlaylistName  = "playlist.m3u8"
	hlsSegmentName   = "segment_%03d.ts"
	dashManifestName = "manifest.mpd"
	dashInitName     = "init-$RepresentationID$.m4s"
	dashMediaName    = "chunk-$RepresentationID$-$Number%05d$.m4s"
	masterName       = "master.m3u8"
)

// PlanOptions are the settings shared by every planned job.
type PlanOptions struct {
	SegmentDuration int
	Preset          string
	// AudioBitrate is the shared DASH audio bitrate.
	AudioBitrate string
	Logger       *slog.Logger
}

func (o PlanOptions) withDefaults() PlanOptions {
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = DefaultSegmentDuration
	}
	if o.Preset == "" {
		o.Preset = DefaultPreset
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = DefaultAudioBitrate
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// BuildFilterComplex splits the first video stream once per rung and scales
// each branch to the rung's resolution. Output labels are [v<i>out].
func BuildFilterComplex(rungs []models.Profile) string {
	n := len(rungs)
	if n == 0 {
		return ""
	}

	var splitOutputs strings.Builder
	for i := 0; i < n; i++ {
		splitOutputs.WriteString(fmt.Sprintf("[v%d]", i))
	}

	var filter strings.Builder
	filter.WriteString(fmt.Sprintf("[0:v]split=%d%s;", n, splitOutputs.String()))

	for i, p := range rungs {
		filter.WriteString(fmt.Sprintf("[v%d]scale=%d:%d[v%dout]", i, p.Width, p.Height, i))
		if i < n-1 {
			filter.WriteString(";")
		}
	}

	return filter.String()
}

// TemporalFor derives aligned keyframe settings from the source frame rate.
func TemporalFor(fps float64, segmentDuration int) Temporal {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = DefaultFPS
	}
	if segmentDuration <= 0 {
		segmentDuration = DefaultSegmentDuration
	}
	gop := int(math.Round(fps * float64(segmentDuration)))
	if gop < 1 {
		gop = 1
	}
	return Temporal{
		SegmentDuration:   segmentDuration,
		GOP:               gop,
		KeyintMin:         gop,
		SceneCutThreshold: 0,
		ForceKeyFrames:    fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentDuration),
	}
}

func videoParams(rungs []models.Profile) ([]string, []VideoParams) {
	maps := make([]string, len(rungs))
	params := make([]VideoParams, len(rungs))
	for i, p := range rungs {
		maps[i] = fmt.Sprintf("[v%dout]", i)
		params[i] = VideoParams{Profile: p, Codec: videoCodec, H264Profile: h264Profile}
	}
	return maps, params
}

func audioParams(bitrate string) AudioParams {
	return AudioParams{
		Codec:      audioCodec,
		Bitrate:    bitrate,
		Channels:   audioChannels,
		SampleRate: audioSampleRate,
	}
}

func validatePlan(asset *models.SourceAsset, rungs []models.Profile) error {
	if asset == nil || asset.Path == "" {
		return fmt.Errorf("%w: no source asset", models.ErrEncodeFailed)
	}
	if len(rungs) == 0 {
		return fmt.Errorf("%w: empty ladder", models.ErrEncodeFailed)
	}
	return nil
}

// PlanHLS describes a single multi-output HLS job producing every rung plus
// a master playlist under outputDir.
func PlanHLS(asset *models.SourceAsset, rungs []models.Profile, outputDir string, opts PlanOptions) (*JobSpec, error) {
	if err := validatePlan(asset, rungs); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	videoMaps, video := videoParams(rungs)
	job := &JobSpec{
		ID:          uuid.New().String(),
		Format:      models.FormatHLS,
		InputPath:   asset.Path,
		OutputDir:   outputDir,
		Preset:      opts.Preset,
		FilterGraph: BuildFilterComplex(rungs),
		VideoMaps:   videoMaps,
		Video:       video,
		Temporal:    TemporalFor(asset.FPS, opts.SegmentDuration),
	}

	entries := make([]string, len(rungs))
	for i, p := range rungs {
		if asset.HasAudio {
			job.AudioMaps = append(job.AudioMaps, "0:a:0")
			job.Audio = append(job.Audio, audioParams(p.AudioBitrate))
			entries[i] = fmt.Sprintf("v:%d,a:%d,name:%s", i, i, p.Name)
		} else {
			entries[i] = fmt.Sprintf("v:%d,name:%s", i, p.Name)
		}
		job.Outputs = append(job.Outputs, filepath.Join(outputDir, p.Name, hlsPlaylistName))
	}
	if !asset.HasAudio {
		opts.Logger.Warn("Source has no audio stream, producing video-only HLS",
			"source", asset.Path)
	}

	job.HLS = &HLSOptions{
		VarStreamMap:       strings.Join(entries, " "),
		MasterPlaylistName: masterName,
		PlaylistPattern:    filepath.Join(outputDir, "%v", hlsPlaylistName),
		SegmentPattern:     filepath.Join(outputDir, "%v", hlsSegmentName),
		PlaylistType:       "vod",
	}

	return job, nil
}

// PlanDASH describes a single multi-output DASH job. Audio is mapped exactly
// once and shared by every representation.
func PlanDASH(asset *models.SourceAsset, rungs []models.Profile, outputDir string, opts PlanOptions) (*JobSpec, error) {
	if err := validatePlan(asset, rungs); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return planDASH(asset, rungs, asset.HasAudio, outputDir, opts), nil
}

// PlanDASHFallback describes a single-rung, video-only DASH job using the
// lowest-resolution profile of the ladder.
func PlanDASHFallback(asset *models.SourceAsset, rungs []models.Profile, outputDir string, opts PlanOptions) (*JobSpec, error) {
	if err := validatePlan(asset, rungs); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	lowest, _ := ladder.Lowest(rungs)
	job := planDASH(asset, []models.Profile{lowest}, false, outputDir, opts)
	job.Fallback = true
	return job, nil
}

func planDASH(asset *models.SourceAsset, rungs []models.Profile, withAudio bool, outputDir string, opts PlanOptions) *JobSpec {
	videoMaps, video := videoParams(rungs)
	manifestPath := filepath.Join(outputDir, dashManifestName)

	job := &JobSpec{
		ID:          uuid.New().String(),
		Format:      models.FormatDASH,
		InputPath:   asset.Path,
		OutputDir:   outputDir,
		Preset:      opts.Preset,
		FilterGraph: BuildFilterComplex(rungs),
		VideoMaps:   videoMaps,
		Video:       video,
		Temporal:    TemporalFor(asset.FPS, opts.SegmentDuration),
		Outputs:     []string{manifestPath},
	}

	adaptationSets := "id=0,streams=v"
	if withAudio {
		job.AudioMaps = []string{"0:a:0"}
		job.Audio = []AudioParams{audioParams(opts.AudioBitrate)}
		adaptationSets += " id=1,streams=a"
	}

	job.DASH = &DASHOptions{
		AdaptationSets:   adaptationSets,
		UseTemplate:      true,
		UseTimeline:      true,
		InitSegmentName:  dashInitName,
		MediaSegmentName: dashMediaName,
		ManifestPath:     manifestPath,
	}
	return job
}
