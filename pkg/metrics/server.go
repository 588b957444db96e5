package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes metrics over HTTP for the lifetime of a run.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// NewRouter builds the metrics routes: path serves the gatherer in the
// Prometheus text format, /healthz answers 200.
func NewRouter(path string, gatherer prometheus.Gatherer) *mux.Router {
	if path == "" {
		path = "/metrics"
	}
	router := mux.NewRouter()
	router.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return router
}

// Start listens on addr and serves the default registry in the background.
func Start(addr, path string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		server: &http.Server{
			Handler:           NewRouter(path, prometheus.DefaultGatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()

	logger.Info("Metrics endpoint listening", "addr", ln.Addr().String(), "path", path)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting at most five seconds for scrapes in
// flight.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
