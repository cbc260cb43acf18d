// Package logging builds the zerolog logger used by every talazo command.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/rcatullo/talazo-kg/internal/config"
)

// New creates a zerolog.Logger from LoggingConfig. The returned close func
// releases a log file, if one was opened.
func New(cfg config.LoggingConfig) (zerolog.Logger, func() error, error) {
	output, outputFile, err := selectOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	closeFn := func() error { return nil }
	if outputFile != nil && outputFile != os.Stdout && outputFile != os.Stderr {
		closeFn = outputFile.Close
	}

	if shouldUsePretty(cfg, outputFile) {
		output = buildConsoleWriter(output)
	}

	logger := zerolog.New(output).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger()

	return logger, closeFn, nil
}

// WithRunID tags every event with a fresh run ID so log lines of concurrent
// batches can be told apart.
func WithRunID(logger zerolog.Logger) (zerolog.Logger, string) {
	runID := uuid.New().String()
	return logger.With().Str("run_id", runID).Logger(), runID
}

// selectOutput returns the output writer and file handle for the given output config.
func selectOutput(outputCfg string) (io.Writer, *os.File, error) {
	switch outputCfg {
	case "", "stderr":
		return os.Stderr, os.Stderr, nil
	case "stdout":
		return os.Stdout, os.Stdout, nil
	default:
		outputCfg = filepath.Clean(outputCfg)
		f, err := os.OpenFile(outputCfg, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", outputCfg, err)
		}
		return f, f, nil
	}
}

// shouldUsePretty determines if pretty console output should be used.
func shouldUsePretty(cfg config.LoggingConfig, outputFile *os.File) bool {
	if cfg.Pretty {
		return true
	}

	switch cfg.Format {
	case "pretty":
		return true
	case "json":
		return false
	default:
		return outputFile != nil && isatty.IsTerminal(outputFile.Fd())
	}
}

func buildConsoleWriter(output io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:             output,
		TimeFormat:      "15:04:05",
		NoColor:         false,
		FormatLevel:     formatLevel,
		FormatMessage:   formatMessage,
		FormatFieldName: formatFieldName,
		FormatFieldValue: func(i any) string {
			return fmt.Sprintf("%s", i)
		},
	}
}

var levelColors = map[string]string{
	"debug": "\033[36mDBG\033[0m", // Cyan
	"info":  "\033[32mINF\033[0m", // Green
	"warn":  "\033[33mWRN\033[0m", // Yellow
	"error": "\033[31mERR\033[0m", // Red
	"fatal": "\033[35mFTL\033[0m", // Magenta
	"panic": "\033[35mPNC\033[0m", // Magenta
}

func formatLevel(i any) string {
	levelStr, ok := i.(string)
	if !ok {
		return ""
	}
	if colored, exists := levelColors[levelStr]; exists {
		return colored
	}
	return levelStr
}

func formatMessage(i any) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("-> %s", i)
}

func formatFieldName(i any) string {
	return fmt.Sprintf("\033[2m%s=\033[0m", i) // Dim
}
