package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/config"
	"github.com/amillerrr/abr-pipeline/internal/logger"
)

// commandContext carries the configuration shared by every subcommand.
type commandContext struct {
	envFile string
	cfg     *config.Config
	log     *slog.Logger
}

// load reads .env and the environment once. Missing .env files are not an
// error.
func (c *commandContext) load() *config.Config {
	if c.cfg != nil {
		return c.cfg
	}
	envErr := godotenv.Load(c.envFile)
	c.cfg = config.Load()
	c.log = logger.New(logger.Options{Format: c.cfg.Logging.Format, Level: c.cfg.Logging.Level})
	slog.SetDefault(c.log)
	if envErr != nil {
		logger.Info(context.Background(), c.log, "No env file loaded, using environment", "file", c.envFile)
	}
	return c.cfg
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "abrd",
		Short:         "Adaptive bitrate transcoding orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", ".env", "Environment file to load before reading configuration")

	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newProfilesCommand(ctx))
	rootCmd.AddCommand(newPlanCommand(ctx))
	rootCmd.AddCommand(newAssetsCommand(ctx))

	return rootCmd
}
