package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/config"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// encodingFlags are the command-line overrides shared by the commands that
// plan or run encodes. Only flags the user set replace configured values.
type encodingFlags struct {
	format          string
	segmentDuration int
	profiles        string
	profilesFile    string
}

func (f *encodingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "Output format: hls, dash or both")
	cmd.Flags().IntVar(&f.segmentDuration, "segment-duration", 0, "Segment duration in seconds")
	cmd.Flags().StringVar(&f.profiles, "profiles", "", "Comma-separated profile names to encode")
	cmd.Flags().StringVar(&f.profilesFile, "profiles-file", "", "TOML file defining the profile table")
}

func (f *encodingFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Encoding.Target = models.TargetFormat(strings.ToLower(strings.TrimSpace(f.format)))
	}
	if flags.Changed("segment-duration") {
		cfg.Encoding.SegmentDuration = f.segmentDuration
	}
	if flags.Changed("profiles") {
		cfg.Encoding.ProfileNames = config.SplitList(f.profiles)
	}
	if flags.Changed("profiles-file") {
		cfg.Encoding.ProfilesFile = f.profilesFile
	}
}
