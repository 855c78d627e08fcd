package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
	db "github.com/JonMunkholm/csvimport/internal/database"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				return errors.Newf("migrate needs STORAGE_DRIVER=postgres, got %q", cfg.Storage.Driver)
			}

			ctx := cmd.Context()
			pool, err := connectDB(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			version, err := db.MigrationVersion(ctx, pool)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "version", version)
			return nil
		},
	}
}
