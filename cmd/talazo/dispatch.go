package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcatullo/talazo-kg/internal/config"
	"github.com/rcatullo/talazo-kg/internal/di"
	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/health"
	"github.com/rcatullo/talazo-kg/internal/shutdown"
	"github.com/rcatullo/talazo-kg/internal/sink"
	"github.com/rcatullo/talazo-kg/internal/source"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send every request in a JSONL file to the endpoint",
	Long: `Read request payloads from a JSONL file, send them to the configured endpoint
under the configured per-minute limits, and record one result per request.

Flags override the matching config file values. SIGINT or SIGTERM stops
admitting new attempts and waits for in-flight ones before exiting.`,
	RunE: runDispatch,
}

func init() {
	addDispatchFlags(dispatchCmd)
	rootCmd.AddCommand(dispatchCmd)
}

func addDispatchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("input", "i", "", "JSONL file of request payloads (overrides input.path)")
	f.StringP("output", "o", "", "results file (overrides output.path)")
	f.String("format", "", "results format: jsonl or sqlite (default: by extension)")
	f.Int("max-in-flight", 0, "maximum concurrent attempts (overrides dispatch.max_in_flight)")
	f.Int("max-attempts", 0, "attempts per request before giving up (overrides retry.max_attempts)")
	f.String("metrics-listen", "", "serve Prometheus metrics on host:port (overrides metrics.listen)")
	f.Bool("skip-preflight", false, "skip the cost pass over the input before dispatching")
}

// dispatchOverrides turns the flags the user actually set into an
// di.Overrides, so unset flags never mask the config file.
func dispatchOverrides(cmd *cobra.Command) (di.Overrides, error) {
	f := cmd.Flags()

	input, err := f.GetString("input")
	if err != nil {
		return nil, fmt.Errorf("failed to get input flag: %w", err)
	}
	output, err := f.GetString("output")
	if err != nil {
		return nil, fmt.Errorf("failed to get output flag: %w", err)
	}
	format, err := f.GetString("format")
	if err != nil {
		return nil, fmt.Errorf("failed to get format flag: %w", err)
	}
	maxInFlight, err := f.GetInt("max-in-flight")
	if err != nil {
		return nil, fmt.Errorf("failed to get max-in-flight flag: %w", err)
	}
	maxAttempts, err := f.GetInt("max-attempts")
	if err != nil {
		return nil, fmt.Errorf("failed to get max-attempts flag: %w", err)
	}
	listen, err := f.GetString("metrics-listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics-listen flag: %w", err)
	}
	skipPreflight, err := f.GetBool("skip-preflight")
	if err != nil {
		return nil, fmt.Errorf("failed to get skip-preflight flag: %w", err)
	}

	return func(cfg *config.Config) {
		if f.Changed("input") {
			cfg.Input.Path = input
		}
		if f.Changed("output") {
			cfg.Output.Path = output
		}
		if f.Changed("format") {
			cfg.Output.Format = format
		}
		if f.Changed("max-in-flight") {
			cfg.Dispatch.MaxInFlight = maxInFlight
		}
		if f.Changed("max-attempts") {
			cfg.Retry.MaxAttempts = maxAttempts
		}
		if f.Changed("metrics-listen") {
			cfg.Metrics.Listen = listen
		}
		if skipPreflight {
			enabled := false
			cfg.Dispatch.PreflightCosts = &enabled
		}
	}, nil
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	overrides, err := dispatchOverrides(cmd)
	if err != nil {
		return err
	}

	configPath, err := config.Find(cfgFile)
	if err != nil {
		return err
	}

	container, err := di.NewContainer(configPath, overrides)
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
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Input.Path == "" {
		return errors.New("no input file: pass --input or set input.path")
	}
	if cfg.Output.Path == "" {
		return errors.New("no output file: pass --output or set output.path")
	}

	loggerSvc, err := di.Invoke[*di.LoggerService](container)
	if err != nil {
		return err
	}
	logger := loggerSvc.Logger

	ctx, stop := shutdown.NotifyContext(commandContext(cmd), func(sig os.Signal) {
		logger.Warn().Str("signal", sig.String()).Msg("stopping, waiting for in-flight requests")
	})
	defer stop()

	svc, err := di.Invoke[*di.DispatcherService](container)
	if err != nil {
		return err
	}

	if cfg.Dispatch.IsPreflightEnabled() {
		if err := preflight(ctx, container, cfg, logger); err != nil {
			return err
		}
	}

	check, err := health.NewEndpointCheck(cfg.Endpoint.URL, cfg.Health.Probe)
	if err != nil {
		return err
	}
	if err := check.Check(ctx); err != nil {
		return err
	}

	src, err := source.OpenJSONL(cfg.Input.Path, source.WithMetadataField(cfg.Input.GetMetadataField()))
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := sink.Open(cfg.Output.Path, cfg.Output.Format)
	if err != nil {
		return err
	}

	cfgSvc.StartWatching(ctx, logger)

	summary, runErr := svc.Dispatcher.Run(ctx, src, out)
	if err := out.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}

	printSummary(cmd.OutOrStdout(), cfg.Output.Path, summary, runErr)
	return runErr
}

// preflight prices the whole input once so an item that could never fit the
// cost budget aborts the run before anything is sent.
func preflight(ctx context.Context, container *di.Container, cfg *config.Config, logger *zerolog.Logger) error {
	estSvc, err := di.Invoke[*di.EstimatorService](container)
	if err != nil {
		return err
	}
	limiterSvc, err := di.Invoke[*di.LimiterService](container)
	if err != nil {
		return err
	}

	src, err := source.OpenJSONL(cfg.Input.Path, source.WithMetadataField(cfg.Input.GetMetadataField()))
	if err != nil {
		return err
	}
	defer src.Close()

	report, err := dispatch.Preflight(ctx, src, estSvc.Estimator, limiterSvc.Limiter.MaxCost())
	if err != nil {
		return err
	}

	logger.Info().
		Int64("items", report.Items).
		Int64("invalid", report.Invalid).
		Int64("total_cost", report.TotalCost).
		Int("max_item_cost", report.MaxItemCost).
		Dur("min_duration", report.MinDuration(cfg.Limits.MaxRequestsPerMinute, cfg.Limits.MaxCostUnitsPerMinute)).
		Msg("preflight complete")
	if report.Invalid > 0 {
		logger.Warn().Int64("invalid", report.Invalid).Msg("input has payloads that will be recorded as failed")
	}
	return nil
}

func printSummary(w io.Writer, output string, s dispatch.Summary, err error) {
	mark := "✓"
	if err != nil || s.Failed+s.Exhausted > 0 {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %d of %d requests recorded to %s in %s\n",
		mark, s.Recorded(), s.Read, output, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  succeeded: %d  failed: %d  exhausted: %d\n", s.Succeeded, s.Failed, s.Exhausted)
	fmt.Fprintf(w, "  attempts: %d  retries: %d  rate limit errors: %d\n", s.Attempts, s.Retries, s.RateLimitErrors)
	if s.Unrecorded > 0 {
		fmt.Fprintf(w, "  never attempted: %d\n", s.Unrecorded)
	}
}

// commandContext returns the command's context, or Background when the
// command was run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
