package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/syncer"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var (
		providerID string
		syncType   string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync once and print the per-provider outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := syncer.ParseType(syncType)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			opts := syncer.Options{Type: typ, Trigger: syncer.TriggerCLI}
			var results []syncer.ProviderResult
			if providerID != "" {
				res, err := rt.container.Syncer.SyncProvider(ctx, providerID, opts)
				if err != nil {
					return fmt.Errorf("sync provider %s: %w", providerID, err)
				}
				results = append(results, res)
			} else {
				res, err := rt.container.Syncer.SyncAllProviders(ctx, opts)
				if err != nil {
					return err
				}
				results = res.Providers
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tWORKFLOWS\tEXECUTIONS\tBACKUPS\tDURATION\tERROR")
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n", r.ProviderName, r.Status, r.Workflows, r.Executions, r.Backups, r.Duration.Round(time.Millisecond), r.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d providers failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", "", "sync only this provider id")
	cmd.Flags().StringVar(&syncType, "type", "full", "sync type (workflows, executions, backups, full)")
	return cmd
}
