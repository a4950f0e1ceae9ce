// Package metrics exposes the Prometheus metrics of the tap.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, tap) to maintain modularity and avoid circular dependencies.
// This package documents them and serves the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the tap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Server serves /metrics for the duration of a run.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr and serves /metrics in the background.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sentry_rate_limit_remaining (Gauge): Requests left in the current Sentry window
//   - sentry_rate_limit_waits_total (Counter): Requests held until the window reset
//   - sentry_rate_limit_throttles_total (Counter): Requests delayed because the window runs low
//
// Page Cache Metrics (pkg/cache):
//   - sentry_page_cache_hits_total (Counter): Pages replayed from Redis
//   - sentry_page_cache_misses_total (Counter): Pages not found in Redis
//   - sentry_page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - sentry_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - sentry_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sentry_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - sentry_retries_total{error_class} (Counter): Retry attempts by error class
//   - sentry_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - sentry_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Sync Metrics (pkg/tap):
//   - tap_sentry_pages_total{stream} (Counter): Pages fetched by stream
//   - tap_sentry_records_total{stream} (Counter): Records emitted by stream
//   - tap_sentry_records_dropped_total{stream} (Counter): Records dropped by post-processing
//   - tap_sentry_stream_duration_seconds{stream, outcome} (Histogram): Stream sync duration
//
// Example Prometheus Queries:
//
//   # Records per second by stream
//   sum by (stream) (rate(tap_sentry_records_total[5m]))
//
//   # Rate limit headroom
//   sentry_rate_limit_remaining < 5
//
//   # Request error rate
//   rate(sentry_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(sentry_request_duration_seconds_bucket[5m]))
