// endpoint.go: Prometheus compatible telemetry endpoint
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

const (
	metricsPath     = "/metrics"
	healthPath      = "/healthz"
	shutdownTimeout = 5 * time.Second
)

// Endpoint serves Prometheus metrics and a liveness check
type Endpoint struct {
	server        *http.Server
	ListenAddress string
	gatherer      prometheus.Gatherer
}

// NewEndpoint creates a metrics endpoint serving the given gatherer
func NewEndpoint(settings *conf.Settings, gatherer prometheus.Gatherer) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("metrics not enabled")
	}
	if gatherer == nil {
		return nil, fmt.Errorf("metrics gatherer is required")
	}

	e := &Endpoint{
		ListenAddress: settings.Telemetry.Listen,
		gatherer:      gatherer,
	}
	e.server = &http.Server{
		Addr:              e.ListenAddress,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return e, nil
}

// Handler returns the HTTP routes served by the endpoint
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.ListenAddress, err)
	}
	return e.serve(ctx, ln)
}

func (e *Endpoint) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		GetLogger().Warn("failed to shutdown telemetry server gracefully", logger.Error(err))
		return err
	}
	// wait for Serve to return
	<-errCh
	return nil
}
