package di

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/rcatullo/talazo-kg/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// MetricsService owns the collectors and, when metrics.listen is set, the
// HTTP server exposing them on /metrics.
type MetricsService struct {
	Metrics *metrics.Metrics
	server  *http.Server
	addr    string
}

// Addr is the address the metrics server listens on, empty when disabled.
func (m *MetricsService) Addr() string {
	return m.addr
}

// NewMetrics creates the collectors and starts the metrics server.
func NewMetrics(i do.Injector) (*MetricsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	svc := &MetricsService{Metrics: metrics.New()}

	listen := cfgSvc.Config.Metrics.Listen
	if listen == "" {
		return svc, nil
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", svc.Metrics.Handler())
	svc.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	svc.addr = ln.Addr().String()

	logger := loggerSvc.Logger
	go func() {
		if err := svc.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", svc.addr).Msg("metrics server listening")

	return svc, nil
}

// Shutdown implements do.Shutdowner.
func (m *MetricsService) Shutdown() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	return m.server.Shutdown(ctx)
}
