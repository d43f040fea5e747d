package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/internal/probe"
	"github.com/amillerrr/abr-pipeline/internal/transcoder"
	"github.com/amillerrr/abr-pipeline/internal/worker"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	flags := &encodingFlags{}
	var output string

	cmd := &cobra.Command{
		Use:   "plan FILE",
		Short: "Probe a video and print the encoder commands that would process it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.load()
			flags.apply(cmd, cfg)
			if cmd.Flags().Changed("output") {
				cfg.Paths.OutputDir = output
			}
			target, err := models.ParseTargetFormat(string(cfg.Encoding.Target))
			if err != nil {
				return err
			}
			table, err := cfg.ProfileTable()
			if err != nil {
				return err
			}

			asset, err := probe.NewFFProbe(cfg.Encoding.FFprobeBin, ctx.log).Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rungs := ladder.Select(asset.Width, asset.Height, table)

			opts := transcoder.PlanOptions{
				SegmentDuration: cfg.Encoding.SegmentDuration,
				Preset:          cfg.Encoding.Preset,
				AudioBitrate:    cfg.Encoding.AudioBitrate,
				Logger:          ctx.log,
			}
			assetDir := worker.NewLayout(cfg.Paths.OutputDir).AssetDir(asset.Path)

			jobs, err := planJobs(asset, rungs, target, assetDir, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source: %s %dx%d %.2ffps audio=%t duration=%.1fs\n",
				asset.Path, asset.Width, asset.Height, asset.FPS, asset.HasAudio, asset.Duration)
			fmt.Fprintf(out, "Ladder: %s\n", strings.Join(ladder.Names(rungs), ", "))
			for _, job := range jobs {
				writeJob(out, cfg.Encoding.FFmpegBin, job)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Output root the commands would write to")
	flags.register(cmd)

	return cmd
}

// planJobs returns the encoder jobs for target, including the DASH fallback
// job that runs only if the full DASH encode fails.
func planJobs(asset *models.SourceAsset, rungs []models.Profile, target models.TargetFormat, assetDir string, opts transcoder.PlanOptions) ([]*transcoder.JobSpec, error) {
	var jobs []*transcoder.JobSpec
	if target.Includes(models.FormatHLS) {
		job, err := transcoder.PlanHLS(asset, rungs, filepath.Join(assetDir, transcoder.HLSDir), opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if target.Includes(models.FormatDASH) {
		dashDir := filepath.Join(assetDir, transcoder.DASHDir)
		job, err := transcoder.PlanDASH(asset, rungs, dashDir, opts)
		if err != nil {
			return nil, err
		}
		fallback, err := transcoder.PlanDASHFallback(asset, rungs, dashDir, opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job, fallback)
	}
	return jobs, nil
}

func writeJob(w io.Writer, bin string, job *transcoder.JobSpec) {
	label := string(job.Format)
	if job.Fallback {
		label += " (fallback)"
	}
	fmt.Fprintf(w, "\n# %s: %s\n", label, strings.Join(ladder.Names(job.Rungs()), ", "))
	fmt.Fprintln(w, transcoder.CommandLine(bin, transcoder.Args(job)))
}
