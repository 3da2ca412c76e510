package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := buildinfo.Info("")
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n", info.Name, info.Version, info.GitCommit, info.BuildDate)
		},
	}
}
