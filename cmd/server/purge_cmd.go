package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd(envFile *string) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete uploads that were never started",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if retention <= 0 {
				retention = cfg.Janitor.Retention
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n := a.service.PurgeStale(ctx, retention)
			logger.Info("purge finished", "deleted", n, "retention", retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "older-than", 0, "age of idle uploads to delete (default JANITOR_RETENTION)")
	return cmd
}
