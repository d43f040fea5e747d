package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/config"
	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/internal/manifest"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

func newProfilesCommand(ctx *commandContext) *cobra.Command {
	var source string
	var profilesFile string
	var names string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Show the rendition table and the ladder chosen for a source size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.load()
			if cmd.Flags().Changed("profiles-file") {
				cfg.Encoding.ProfilesFile = profilesFile
			}
			if cmd.Flags().Changed("profiles") {
				cfg.Encoding.ProfileNames = config.SplitList(names)
			}
			table, err := cfg.ProfileTable()
			if err != nil {
				return err
			}

			var selected []models.Profile
			if source != "" {
				width, height, err := parseDimensions(source)
				if err != nil {
					return err
				}
				selected = ladder.Select(width, height, table)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderProfiles(table, selected, source != ""))
			if source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Ladder for %s: %s\n", source, strings.Join(ladder.Names(selected), ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source dimensions as WIDTHxHEIGHT")
	cmd.Flags().StringVar(&profilesFile, "profiles-file", "", "TOML file defining the profile table")
	cmd.Flags().StringVar(&names, "profiles", "", "Comma-separated profile names to include")

	return cmd
}

// parseDimensions parses "1920x1080".
func parseDimensions(value string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid dimensions %q: expected WIDTHxHEIGHT", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", value)
	}
	return width, height, nil
}

func renderProfiles(table, selected []models.Profile, showSelection bool) string {
	headers := []string{"Name", "Resolution", "Video", "Max", "Buffer", "Audio", "Bandwidth"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	if showSelection {
		headers = append(headers, "Selected")
		aligns = append(aligns, alignLeft)
	}

	chosen := make(map[string]bool, len(selected))
	for _, p := range selected {
		chosen[p.Name] = true
	}

	rows := make([][]string, 0, len(table))
	for _, p := range table {
		bandwidth := "-"
		if bps, err := manifest.Bandwidth(p); err == nil {
			bandwidth = strconv.FormatInt(bps, 10)
		}
		row := []string{
			p.Name,
			fmt.Sprintf("%dx%d", p.Width, p.Height),
			p.VideoBitrate,
			p.MaxBitrate,
			p.BufferSize,
			p.AudioBitrate,
			bandwidth,
		}
		if showSelection {
			mark := ""
			if chosen[p.Name] {
				mark = "yes"
			}
			row = append(row, mark)
		}
		rows = append(rows, row)
	}

	return renderTable(headers, rows, aligns)
}
