package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/pricing"
)

func newPricingCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manage the AI model price table",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Refresh prices from OpenRouter",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				rt, err := flags.open(ctx)
				if err != nil {
					return err
				}
				defer rt.Close(ctx)

				n, err := rt.container.Pricing.Sync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d models\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Load prices from an OpenRouter style JSON file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				models, err := pricing.ParseOpenRouter(body)
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				rt, err := flags.open(ctx)
				if err != nil {
					return err
				}
				defer rt.Close(ctx)

				n, err := rt.container.Pricing.Import(ctx, models, pricing.SourceImport)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d models from %s\n", n, args[0])
				return nil
			},
		},
		newPricingShowCmd(flags),
	)
	return cmd
}

func newPricingShowCmd(flags *globalFlags) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective price table (USD per 1K tokens)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			table, err := rt.container.Pricing.Table(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tINPUT\tOUTPUT")
			for _, key := range table.Keys() {
				if filter != "" && !strings.Contains(key, strings.ToLower(filter)) {
					continue
				}
				p := table[key]
				fmt.Fprintf(w, "%s\t%s\t%s\n", key, p.Input.String(), p.Output.String())
			}
			fb := rt.container.Pricing.Fallback()
			fmt.Fprintf(w, "(fallback)\t%s\t%s\n", fb.Input.String(), fb.Output.String())
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter, "model", "", "only show models containing this text")
	return cmd
}
