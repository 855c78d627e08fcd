package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newImportersCmd(envFile *string) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "importers",
		Short: "List registered importers visible to an operator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if operator == "" {
				operator = cfg.Security.DefaultOperator
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tBATCH\tINERT\tHEADERS")
			for _, imp := range a.service.Importers(ctx, operator) {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\n", imp.Slug, imp.Name, imp.BatchSize, imp.Inert(), strings.Join(imp.Headers, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&operator, "as", "", "operator whose access is checked (default DEFAULT_OPERATOR)")
	return cmd
}
