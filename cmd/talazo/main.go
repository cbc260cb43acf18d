// Package main is the entry point for talazo.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"

	"github.com/rcatullo/talazo-kg/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "talazo",
	Short: "Rate-limited batch dispatcher for JSON APIs",
	Long: `talazo streams a JSONL file of request payloads to an HTTP JSON API,
staying under a requests-per-minute and a cost-units-per-minute budget,
retrying failed attempts, and recording exactly one result per request.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+config.DefaultFileName+" or ~/.config/talazo/"+config.DefaultFileName+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
