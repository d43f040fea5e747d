package transcoder

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

func rungs(names ...string) []models.Profile {
	table := ladder.DefaultTable()
	out := make([]models.Profile, 0, len(names))
	for _, n := range names {
		out = append(out, *ladder.GetProfileByName(table, n))
	}
	return out
}

func TestBuildFilterComplex(t *testing.T) {
	tests := []struct {
		name  string
		rungs []models.Profile
		want  string
	}{
		{
			name:  "empty ladder",
			rungs: nil,
			want:  "",
		},
		{
			name:  "single rung",
			rungs: rungs("720p"),
			want:  "[0:v]split=1[v0];[v0]scale=1280:720[v0out]",
		},
		{
			name:  "multiple rungs",
			rungs: rungs("240p", "360p", "480p"),
			want:  "[0:v]split=3[v0][v1][v2];[v0]scale=426:240[v0out];[v1]scale=640:360[v1out];[v2]scale=854:480[v2out]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildFilterComplex(tt.rungs)
			if got != tt.want {
				t.Errorf("BuildFilterComplex() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemporalFor(t *testing.T) {
	tests := []struct {
		name    string
		fps     float64
		segDur  int
		wantGOP int
		wantKF  string
	}{
		{"25fps 6s", 25, 6, 150, "expr:gte(t,n_forced*6)"},
		{"29.97fps 6s", 29.97, 6, 180, "expr:gte(t,n_forced*6)"},
		{"unknown fps", 0, 4, 100, "expr:gte(t,n_forced*4)"},
		{"default segment", 30, 0, 180, "expr:gte(t,n_forced*6)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TemporalFor(tt.fps, tt.segDur)
			if got.GOP != tt.wantGOP {
				t.Errorf("GOP = %d, want %d", got.GOP, tt.wantGOP)
			}
			if got.KeyintMin != got.GOP {
				t.Errorf("KeyintMin = %d, want %d", got.KeyintMin, got.GOP)
			}
			if got.SceneCutThreshold != 0 {
				t.Errorf("SceneCutThreshold = %d, want 0", got.SceneCutThreshold)
			}
			if got.ForceKeyFrames != tt.wantKF {
				t.Errorf("ForceKeyFrames = %q, want %q", got.ForceKeyFrames, tt.wantKF)
			}
		})
	}
}

func TestPlanHLS_WithAudio(t *testing.T) {
	asset := &models.SourceAsset{Path: "in.mp4", Width: 1280, Height: 720, FPS: 30, HasAudio: true}
	ladder := rungs("240p", "360p", "480p", "720p")

	job, err := PlanHLS(asset, ladder, "/out/hls", PlanOptions{})
	if err != nil {
		t.Fatalf("PlanHLS() error = %v", err)
	}

	if job.Format != models.FormatHLS {
		t.Errorf("Format = %s, want hls", job.Format)
	}
	if len(job.VideoMaps) != 4 || job.VideoMaps[3] != "[v3out]" {
		t.Errorf("VideoMaps = %v, want four labeled outputs", job.VideoMaps)
	}
	if len(job.AudioMaps) != 4 {
		t.Errorf("AudioMaps = %v, want one per rung", job.AudioMaps)
	}
	for i, a := range job.Audio {
		if a.Bitrate != ladder[i].AudioBitrate {
			t.Errorf("Audio[%d].Bitrate = %s, want %s", i, a.Bitrate, ladder[i].AudioBitrate)
		}
		if a.Channels != 2 || a.SampleRate != 48000 {
			t.Errorf("Audio[%d] = %+v, want stereo 48kHz", i, a)
		}
	}

	wantMap := "v:0,a:0,name:240p v:1,a:1,name:360p v:2,a:2,name:480p v:3,a:3,name:720p"
	if job.HLS.VarStreamMap != wantMap {
		t.Errorf("VarStreamMap = %q, want %q", job.HLS.VarStreamMap, wantMap)
	}
	if job.HLS.MasterPlaylistName != "master.m3u8" {
		t.Errorf("MasterPlaylistName = %s, want master.m3u8", job.HLS.MasterPlaylistName)
	}
	if job.HLS.PlaylistType != "vod" {
		t.Errorf("PlaylistType = %s, want vod", job.HLS.PlaylistType)
	}
	if job.HLS.SegmentPattern != filepath.Join("/out/hls", "%v", "segment_%03d.ts") {
		t.Errorf("SegmentPattern = %s", job.HLS.SegmentPattern)
	}
	if len(job.Outputs) != 4 || job.Outputs[0] != filepath.Join("/out/hls", "240p", "playlist.m3u8") {
		t.Errorf("Outputs = %v", job.Outputs)
	}
	if job.Temporal.GOP != 180 {
		t.Errorf("GOP = %d, want 180", job.Temporal.GOP)
	}
	if job.Preset != DefaultPreset {
		t.Errorf("Preset = %s, want %s", job.Preset, DefaultPreset)
	}
}

func TestPlanHLS_NoAudio(t *testing.T) {
	asset := &models.SourceAsset{Path: "silent.mp4", Width: 640, Height: 360, HasAudio: false}

	job, err := PlanHLS(asset, rungs("240p", "360p"), "/out/hls", PlanOptions{})
	if err != nil {
		t.Fatalf("PlanHLS() error = %v", err)
	}

	if job.HasAudio() || len(job.Audio) != 0 {
		t.Errorf("AudioMaps = %v, want none", job.AudioMaps)
	}
	if job.HLS.VarStreamMap != "v:0,name:240p v:1,name:360p" {
		t.Errorf("VarStreamMap = %q", job.HLS.VarStreamMap)
	}
	for _, arg := range Args(job) {
		if strings.HasPrefix(arg, "0:a") {
			t.Errorf("Args() contains audio map %q", arg)
		}
	}
}

func TestPlanDASH_AudioMappedOnce(t *testing.T) {
	asset := &models.SourceAsset{Path: "in.mp4", Width: 1920, Height: 1080, FPS: 25, HasAudio: true}

	job, err := PlanDASH(asset, rungs("240p", "360p", "480p", "720p", "1080p"), "/out/dash", PlanOptions{AudioBitrate: "160k"})
	if err != nil {
		t.Fatalf("PlanDASH() error = %v", err)
	}

	if len(job.VideoMaps) != 5 {
		t.Errorf("VideoMaps = %v, want 5", job.VideoMaps)
	}
	if len(job.AudioMaps) != 1 || job.AudioMaps[0] != "0:a:0" {
		t.Errorf("AudioMaps = %v, want [0:a:0]", job.AudioMaps)
	}
	if len(job.Audio) != 1 || job.Audio[0].Bitrate != "160k" {
		t.Errorf("Audio = %+v, want one shared 160k stream", job.Audio)
	}
	if job.DASH.AdaptationSets != "id=0,streams=v id=1,streams=a" {
		t.Errorf("AdaptationSets = %q", job.DASH.AdaptationSets)
	}
	if !job.DASH.UseTemplate || !job.DASH.UseTimeline {
		t.Error("UseTemplate and UseTimeline should be enabled")
	}
	if job.DASH.ManifestPath != filepath.Join("/out/dash", "manifest.mpd") {
		t.Errorf("ManifestPath = %s", job.DASH.ManifestPath)
	}
	if job.Fallback {
		t.Error("Fallback = true, want false")
	}

	audioMaps := 0
	args := Args(job)
	for i, arg := range args {
		if arg == "-map" && args[i+1] == "0:a:0" {
			audioMaps++
		}
	}
	if audioMaps != 1 {
		t.Errorf("Args() maps audio %d times, want 1", audioMaps)
	}
}

func TestPlanDASH_NoAudio(t *testing.T) {
	asset := &models.SourceAsset{Path: "in.mp4", Width: 640, Height: 360}

	job, err := PlanDASH(asset, rungs("240p", "360p"), "/out/dash", PlanOptions{})
	if err != nil {
		t.Fatalf("PlanDASH() error = %v", err)
	}
	if job.HasAudio() {
		t.Errorf("AudioMaps = %v, want none", job.AudioMaps)
	}
	if job.DASH.AdaptationSets != "id=0,streams=v" {
		t.Errorf("AdaptationSets = %q, want video-only", job.DASH.AdaptationSets)
	}
}

func TestPlanDASHFallback(t *testing.T) {
	asset := &models.SourceAsset{Path: "in.mp4", Width: 1280, Height: 720, HasAudio: true}

	job, err := PlanDASHFallback(asset, rungs("720p", "240p", "480p"), "/out/dash", PlanOptions{})
	if err != nil {
		t.Fatalf("PlanDASHFallback() error = %v", err)
	}

	if !job.Fallback {
		t.Error("Fallback = false, want true")
	}
	if len(job.Video) != 1 || job.Video[0].Profile.Name != "240p" {
		t.Errorf("Video = %+v, want single 240p rung", job.Video)
	}
	if job.HasAudio() {
		t.Errorf("AudioMaps = %v, want video-only", job.AudioMaps)
	}
	if job.FilterGraph != "[0:v]split=1[v0];[v0]scale=426:240[v0out]" {
		t.Errorf("FilterGraph = %q", job.FilterGraph)
	}
}

func TestPlan_Errors(t *testing.T) {
	asset := &models.SourceAsset{Path: "in.mp4", Width: 640, Height: 360}

	if _, err := PlanHLS(asset, nil, "/out", PlanOptions{}); err == nil {
		t.Error("PlanHLS() with empty ladder expected error")
	}
	if _, err := PlanDASH(nil, rungs("240p"), "/out", PlanOptions{}); err == nil {
		t.Error("PlanDASH() with nil asset expected error")
	}
	if _, err := PlanDASHFallback(asset, nil, "/out", PlanOptions{}); err == nil {
		t.Error("PlanDASHFallback() with empty ladder expected error")
	}
}
