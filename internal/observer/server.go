package observer

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the C10 metrics sink at GET /metrics in
// Prometheus exposition format. It is an independent accept loop from
// the proxy listener; see SPEC_FULL.md §5.
type MetricsServer struct {
	httpServer *http.Server
}

// NewMetricsServer builds (but does not start) the metrics HTTP surface.
func NewMetricsServer(addr string, reg *prometheus.Registry, log Logger) *MetricsServer {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	loggedRouter := handlers.CombinedLoggingHandler(requestLogWriter{log}, router)

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: loggedRouter,
		},
	}
}

// ListenAndServe starts the metrics listener; it blocks until the server
// is shut down, mirroring net/http.Server's own contract.
func (s *MetricsServer) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogWriter adapts Logger to the io.Writer gorilla/handlers'
// combined logging format expects, tagging every access line as a debug
// event so it never competes with the one-line-per-proxy-request log.
type requestLogWriter struct {
	log Logger
}

func (w requestLogWriter) Write(p []byte) (int, error) {
	w.log.Debug("metrics endpoint access", Pairs{"line": string(p), "at": time.Now().Format(time.RFC3339)})
	return len(p), nil
}
