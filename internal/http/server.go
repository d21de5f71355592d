package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/refresher"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
	"github.com/andygrunwald/nordpool-prices/internal/scheduler"
	"github.com/andygrunwald/nordpool-prices/internal/update"
)

// Dependencies are the components served over HTTP. Scheduler, Checker and
// Installer may be nil.
type Dependencies struct {
	Refresher *refresher.Refresher
	Scheduler *scheduler.Scheduler
	Reminders *reminder.Scheduler
	Checker   *update.Checker
	Installer *update.Installer
	// Now overrides the clock used by handlers.
	Now func() time.Time
}

// Server represents the HTTP server for metrics, status and price endpoints.
type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	metrics *Metrics
}

// NewServer creates a new HTTP server with metrics on the default registry.
func NewServer(addr string, deps Dependencies, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http").Logger()

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(deps, promhttp.Handler(), logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:  logger,
		metrics: NewMetrics(prometheus.DefaultRegisterer),
	}
}

// NewHandler builds the request router.
func NewHandler(deps Dependencies, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Register handlers
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/status", NewStatusHandler(deps))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if deps.Refresher != nil {
		mux.Handle("GET /prices", NewPricesHandler(deps, logger))
	}
	if deps.Refresher != nil && deps.Reminders != nil {
		rh := NewRemindersHandler(deps, logger)
		mux.HandleFunc("GET /reminders", rh.List)
		mux.HandleFunc("POST /reminders/{start}", rh.Schedule)
		mux.HandleFunc("DELETE /reminders/{start}", rh.Cancel)
	}

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Metrics returns the Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
