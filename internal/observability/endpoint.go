package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	metricspkg "github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// maxScrapeConnections bounds concurrent scrapes of the endpoint.
const maxScrapeConnections = 16

// Endpoint serves /metrics for the lifetime of a run.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates an Endpoint listening on listenAddress.
func NewEndpoint(listenAddress string, metrics *Metrics) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, errors.Newf("metrics listen address is empty").
			Category(errors.CategoryConfiguration).
			Component("observability").
			Build()
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
		server: &http.Server{
			Addr:              listenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start listens and serves until ctx is cancelled, then shuts the server down.
// It is meant to run inside an errgroup.
func (e *Endpoint) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNetwork).
			Component("observability").
			Context("listen", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, ln)
}

// Serve runs the server on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	log := GetLogger()
	ln = netutil.LimitListener(ln, maxScrapeConnections)
	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		errCh <- e.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("metrics HTTP server error", logger.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance served by this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
