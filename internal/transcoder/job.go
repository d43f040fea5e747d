package transcoder

import (
	"fmt"
	"strings"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// VideoParams are the encoder settings of one video output stream.
type VideoParams struct {
	Profile     models.Profile
	Codec       string
	H264Profile string
}

// AudioParams are the encoder settings of one audio output stream.
type AudioParams struct {
	Codec      string
	Bitrate    string
	Channels   int
	SampleRate int
}

// Temporal holds the keyframe settings that keep segment boundaries aligned
// across every rung.
type Temporal struct {
	SegmentDuration   int
	GOP               int
	KeyintMin         int
	SceneCutThreshold int
	ForceKeyFrames    string
}

// HLSOptions are the HLS muxer settings. Patterns use %v for the variant name.
type HLSOptions struct {
	VarStreamMap       string
	MasterPlaylistName string
	PlaylistPattern    string
	SegmentPattern     string
	PlaylistType       string
}

// DASHOptions are the DASH muxer settings.
type DASHOptions struct {
	AdaptationSets   string
	UseTemplate      bool
	UseTimeline      bool
	InitSegmentName  string
	MediaSegmentName string
	ManifestPath     string
}

// JobSpec is a format-agnostic description of one encoder invocation.
type JobSpec struct {
	ID        string
	Format    models.Format
	InputPath string
	OutputDir string
	Preset    string

	FilterGraph string
	VideoMaps   []string
	AudioMaps   []string
	Video       []VideoParams
	Audio       []AudioParams
	Temporal    Temporal

	HLS  *HLSOptions
	DASH *DASHOptions

	// Outputs lists the artifacts that must exist after a successful run.
	Outputs []string

	Fallback bool
}

// Rungs returns the profiles of the job in stream order.
func (j *JobSpec) Rungs() []models.Profile {
	rungs := make([]models.Profile, len(j.Video))
	for i, v := range j.Video {
		rungs[i] = v.Profile
	}
	return rungs
}

// HasAudio reports whether the job maps any audio stream.
func (j *JobSpec) HasAudio() bool {
	return len(j.AudioMaps) > 0
}

// RenditionSet is what a successful encoder job produced.
type RenditionSet struct {
	Format       models.Format
	Renditions   []models.Rendition
	ManifestPath string
}

// EncodeFailure describes a failed encoder job.
type EncodeFailure struct {
	Format     models.Format
	ExitCode   int
	Diagnostic string
}

func (e *EncodeFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s job exited with status %d", models.ErrEncodeFailed, e.Format, e.ExitCode)
	if e.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostic)
	}
	return b.String()
}

func (e *EncodeFailure) Unwrap() error {
	return models.ErrEncodeFailed
}
