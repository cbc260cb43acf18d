package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/rcatullo/talazo-kg/internal/logging"
)

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
	close  func() error
	RunID  string
}

// NewLogger creates the run logger from configuration.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	base, closeFn, err := logging.New(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger, runID := logging.WithRunID(base)

	return &LoggerService{Logger: &logger, RunID: runID, close: closeFn}, nil
}

// Shutdown implements do.Shutdowner and closes a log file.
func (l *LoggerService) Shutdown() error {
	return l.close()
}
