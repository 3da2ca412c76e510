package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newProvidersCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured n8n instances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers with their connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			items, err := rt.container.Providers.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tURL\tSTATUS\tVERSION\tLAST CHECKED")
			for _, p := range items {
				version := "-"
				if p.Version != nil {
					version = *p.Version
				}
				checked := "never"
				if p.LastCheckedAt != nil {
					checked = p.LastCheckedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.BaseURL, p.Status, version, checked)
			}
			return w.Flush()
		},
	})
	return cmd
}
