package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcatullo/talazo-kg/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version, git commit, and build date.`,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "talazo %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
