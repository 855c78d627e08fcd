package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "csvimport",
		Short:         "CSV import service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(newServeCmd(&envFile))
	cmd.AddCommand(newMigrateCmd(&envFile))
	cmd.AddCommand(newTickCmd(&envFile))
	cmd.AddCommand(newPurgeCmd(&envFile))
	cmd.AddCommand(newImportersCmd(&envFile))
	return cmd
}

// loadConfig seeds the environment from envFile, then loads and validates
// configuration and installs the global logger.
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	// Overload overwrites existing env vars
	if err := godotenv.Overload(envFile); err != nil {
		slog.Info("no .env file found, using environment variables", "path", envFile)
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)", "path", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}
