package models

import (
	"fmt"
	"strings"
)

// AssetStatus represents the processing status of an asset.
type AssetStatus string

const (
	StatusPending    AssetStatus = "pending"
	StatusProcessing AssetStatus = "processing"
	StatusCompleted  AssetStatus = "completed"
	StatusFailed     AssetStatus = "failed"
)

// IsValid returns true if the status is a valid AssetStatus.
func (s AssetStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Format is a single streaming output format.
type Format string

const (
	FormatHLS  Format = "hls"
	FormatDASH Format = "dash"
)

// TargetFormat selects which output formats are produced for an asset.
type TargetFormat string

const (
	TargetHLS  TargetFormat = "hls"
	TargetDASH TargetFormat = "dash"
	TargetBoth TargetFormat = "both"
)

// ParseTargetFormat parses a case-insensitive target format name.
func ParseTargetFormat(s string) (TargetFormat, error) {
	switch t := TargetFormat(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetHLS, TargetDASH, TargetBoth:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Formats expands the target into the formats to plan, HLS first.
func (t TargetFormat) Formats() []Format {
	switch t {
	case TargetHLS:
		return []Format{FormatHLS}
	case TargetDASH:
		return []Format{FormatDASH}
	case TargetBoth:
		return []Format{FormatHLS, FormatDASH}
	}
	return nil
}

// Includes reports whether f is produced for this target.
func (t TargetFormat) Includes(f Format) bool {
	for _, v := range t.Formats() {
		if v == f {
			return true
		}
	}
	return false
}

// SourceAsset is the probed description of an input file. It is not modified after probing.
type SourceAsset struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	HasAudio bool    `json:"hasAudio"`
}

// Profile defines the encoding parameters of one ladder rung.
type Profile struct {
	Name         string `toml:"name" json:"name" dynamodbav:"name"`
	Width        int    `toml:"width" json:"width" dynamodbav:"width"`
	Height       int    `toml:"height" json:"height" dynamodbav:"height"`
	VideoBitrate string `toml:"video_bitrate" json:"videoBitrate" dynamodbav:"video_bitrate"`
	MaxBitrate   string `toml:"max_bitrate" json:"maxBitrate" dynamodbav:"max_bitrate"`
	BufferSize   string `toml:"buffer_size" json:"bufferSize" dynamodbav:"buffer_size"`
	AudioBitrate string `toml:"audio_bitrate" json:"audioBitrate" dynamodbav:"audio_bitrate"`
}

// Rendition is one encoded rung of an asset as written to the output tree.
type Rendition struct {
	Profile      Profile
	StreamIndex  int
	SegmentPaths []string
	PlaylistPath string
}

// ManifestSet holds the top-level manifests of a processed asset. A path is empty
// when the corresponding format was not requested or failed.
type ManifestSet struct {
	MasterPlaylistPath string `json:"masterPlaylistPath,omitempty"`
	DASHManifestPath   string `json:"dashManifestPath,omitempty"`
}

// AssetRecord is the catalog entry describing the processing of one asset.
type AssetRecord struct {
	// Keys
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`

	// Attributes
	AssetID         string      `dynamodbav:"asset_id" json:"assetId"`
	RunID           string      `dynamodbav:"run_id" json:"runId"`
	SourcePath      string      `dynamodbav:"source_path" json:"sourcePath"`
	Status          AssetStatus `dynamodbav:"status" json:"status"`
	Width           int         `dynamodbav:"width,omitempty" json:"width,omitempty"`
	Height          int         `dynamodbav:"height,omitempty" json:"height,omitempty"`
	DurationSeconds float64     `dynamodbav:"duration_seconds,omitempty" json:"durationSeconds,omitempty"`
	Ladder          []Profile   `dynamodbav:"ladder,omitempty" json:"ladder,omitempty"`
	MasterPlaylist  string      `dynamodbav:"master_playlist,omitempty" json:"masterPlaylist,omitempty"`
	DASHManifest    string      `dynamodbav:"dash_manifest,omitempty" json:"dashManifest,omitempty"`
	CreatedAt       string      `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       string      `dynamodbav:"updated_at" json:"updatedAt"`
	ProcessedAt     string      `dynamodbav:"processed_at,omitempty" json:"processedAt,omitempty"`
	ErrorMessage    string      `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
}

// CompletionEvent is published once an asset has produced at least one manifest.
type CompletionEvent struct {
	AssetID     string      `json:"assetId"`
	RunID       string      `json:"runId"`
	SourcePath  string      `json:"sourcePath"`
	Manifests   ManifestSet `json:"manifests"`
	PlaybackURL string      `json:"playbackUrl,omitempty"`
	Renditions  []string    `json:"renditions"`
	Error       string      `json:"error,omitempty"`
}
