package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratekeeper/internal/models"
)

// MetricsServer exposes the Prometheus scrape endpoint on its own listener,
// outside authentication and the API self-throttle.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer builds the scrape listener for cfg. Nothing is mounted
// unless provider was set up with the Prometheus exporter.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	if provider != nil && provider.promExporter != nil {
		mux.Handle(cfg.Path, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
			EnableOpenMetrics: true,
		}))
	}

	return &MetricsServer{server: &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start blocks serving scrapes until Shutdown, then returns http.ErrServerClosed.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
