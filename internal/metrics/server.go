package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mqtt2serial/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// HealthFunc reports nil while the bridge is healthy.
type HealthFunc func(ctx context.Context) error

// Server serves /metrics and /healthz.
type Server struct {
	log    logger.Logger
	server *http.Server
}

// NewHandler builds the HTTP routes. Exported for tests.
func NewHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func NewServer(log logger.Logger, addr string, gatherer prometheus.Gatherer, health HealthFunc) *Server {
	return &Server{
		log: log,
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(gatherer, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens in the background until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.With(logger.Fields{"module": "metrics"}).Infof("listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.With(logger.Fields{"module": "metrics"}).Errorf("http server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.With(logger.Fields{"module": "metrics"}).Errorf("http shutdown: %v", err)
		}
	}()
}
