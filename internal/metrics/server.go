package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics (Prometheus text exposition) and /healthz over
// HTTP. Grounded on go-tor's pkg/httpmetrics.Server for the
// listen/serve/graceful-shutdown shape; the handlers themselves are
// promhttp's, not hand-rolled, since the relay already depends on
// client_golang for metric collection.
type Server struct {
	address  string
	registry *prometheus.Registry
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	wg sync.WaitGroup
}

// NewServer builds a metrics HTTP server serving reg. If reg is nil,
// /metrics serves the global Prometheus registry through promhttp.Handler,
// the same as NewDefaultServer, which is where the package-level Default()
// metrics are registered.
func NewServer(address string, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		registry: reg,
		logger:   logger.With("component", "metrics"),
	}
}

// NewDefaultServer builds a metrics HTTP server serving the global
// Prometheus registry, the common case for a single-process server.
func NewDefaultServer(address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		logger:  logger.With("component", "metrics"),
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Start binds the listener and begins serving in the background. It
// returns once the listener is bound, not once the server stops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("metrics server: listen on %s: %w", s.address, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("metrics server listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the actual bound address, valid after Start returns nil.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Stop gracefully shuts the server down, waiting up to 5 seconds for
// in-flight requests to finish.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}
