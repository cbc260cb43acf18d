package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcatullo/talazo-kg/internal/config"
	"github.com/rcatullo/talazo-kg/internal/di"
	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/source"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Preview the cost of a JSONL file without sending it",
	Long: `Price every request in a JSONL file with the configured cost scheme, report
the total and the shortest possible run time under the configured limits, and
flag requests whose cost exceeds the per-minute cost budget. Those requests
could never be admitted and make dispatch abort.`,
	RunE: runEstimate,
}

func init() {
	addEstimateFlags(estimateCmd)
	rootCmd.AddCommand(estimateCmd)
}

func addEstimateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "JSONL file of request payloads (overrides input.path)")
	cmd.Flags().BoolP("verbose", "v", false, "print the cost of every request")
}

func runEstimate(cmd *cobra.Command, _ []string) error {
	input, err := cmd.Flags().GetString("input")
	if err != nil {
		return fmt.Errorf("failed to get input flag: %w", err)
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}

	configPath, err := config.Find(cfgFile)
	if err != nil {
		return err
	}
	container, err := di.NewContainer(configPath, func(cfg *config.Config) {
		if input != "" {
			cfg.Input.Path = input
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Shutdown(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %s\n", err)
		}
	}()

	cfgSvc, err := di.Invoke[*di.ConfigService](container)
	if err != nil {
		return err
	}
	cfg := cfgSvc.Get()
	if err := cfg.ValidateBudgets(); err != nil {
		return err
	}
	if cfg.Input.Path == "" {
		return errors.New("no input file: pass --input or set input.path")
	}

	estSvc, err := di.Invoke[*di.EstimatorService](container)
	if err != nil {
		return err
	}
	limiterSvc, err := di.Invoke[*di.LimiterService](container)
	if err != nil {
		return err
	}
	maxCost := limiterSvc.Limiter.MaxCost()

	src, err := source.OpenJSONL(cfg.Input.Path, source.WithMetadataField(cfg.Input.GetMetadataField()))
	if err != nil {
		return err
	}
	defer src.Close()

	out := cmd.OutOrStdout()
	var oversized int64
	report, err := dispatch.Scan(commandContext(cmd), src, estSvc.Estimator, func(item dispatch.ItemEstimate) error {
		switch {
		case item.Err != nil:
			fmt.Fprintf(out, "✗ item %d: %s\n", item.Seq, item.Err)
		case item.Cost > maxCost:
			oversized++
			fmt.Fprintf(out, "✗ item %d: cost %d exceeds the per-minute budget of %d%s\n",
				item.Seq, item.Cost, maxCost, metadataSuffix(item.Metadata))
		case verbose:
			fmt.Fprintf(out, "  item %d: cost %d%s\n", item.Seq, item.Cost, metadataSuffix(item.Metadata))
		}
		return nil
	})
	if err != nil {
		return err
	}

	limits := cfg.Limits
	fmt.Fprintf(out, "items: %d  invalid: %d  total cost: %d  largest item: %d\n",
		report.Items, report.Invalid, report.TotalCost, report.MaxItemCost)
	fmt.Fprintf(out, "minimum duration at %d requests/min and %d cost units/min: %s\n",
		limits.MaxRequestsPerMinute, limits.MaxCostUnitsPerMinute,
		report.MinDuration(limits.MaxRequestsPerMinute, limits.MaxCostUnitsPerMinute))

	if oversized > 0 {
		return fmt.Errorf("%d items can never be admitted under max_cost_units_per_minute %d", oversized, maxCost)
	}
	return nil
}

func metadataSuffix(metadata []byte) string {
	if len(metadata) == 0 || string(metadata) == "null" {
		return ""
	}
	return " " + string(metadata)
}
