package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/database"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			conn, dialect, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer conn.Close()

			if err := database.RunMigrations(ctx, conn, dialect, true); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			version, err := database.MigrationVersion(ctx, conn, dialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", dialect, version)
			return nil
		},
	}
}
