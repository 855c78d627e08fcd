package main

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type tickOptions struct {
	Initiator string
}

// newTickCmd runs one tick by hand, for a record whose scheduled tick was
// lost or to step through an import while debugging.
func newTickCmd(envFile *string) *cobra.Command {
	var opts tickOptions

	cmd := &cobra.Command{
		Use:   "tick <record-id> --as <operator>",
		Short: "Run one batch tick for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "record id")
			}
			if opts.Initiator == "" {
				return errors.New("--as is required")
			}

			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.Tick(ctx, id, opts.Initiator); err != nil {
				return err
			}
			logger.Info("tick finished", "record_id", id, "initiator", opts.Initiator)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Initiator, "as", "", "operator the tick runs as")
	return cmd
}
