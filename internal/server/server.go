package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sundayezeilo/linkgate/internal/config"
	"github.com/sundayezeilo/linkgate/internal/httpx"
	"github.com/sundayezeilo/linkgate/internal/metrics"
	"github.com/sundayezeilo/linkgate/internal/shortener"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server routes to.
type Deps struct {
	Handler *shortener.Handler
	Store   Pinger
	Metrics *metrics.Metrics

	// Auth gates the management routes (delete-batch and query).
	Auth func(http.Handler) http.Handler

	// Gatherer backs GET /x/metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config *config.Config
	logger *slog.Logger
	deps   Deps
	server *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	if deps.Auth == nil {
		deps.Auth = func(h http.Handler) http.Handler { return h }
	}
	return &Server{
		config: cfg,
		logger: logger,
		deps:   deps,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start starts the HTTP server and blocks until ctx is done or a shutdown
// signal arrives.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())

	case <-ctx.Done():
		s.logger.Info("context canceled, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		// Force close if graceful shutdown fails
		if closeErr := s.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.deps.Handler

	s.handle(mux, "GET /x/health", http.HandlerFunc(s.healthCheckHandler))
	if s.deps.Gatherer != nil {
		mux.Handle("GET /x/metrics", metrics.Handler(s.deps.Gatherer))
	}

	s.handle(mux, "POST /api/link/create", http.HandlerFunc(h.CreateLink))
	s.handle(mux, "POST /api/link/delete-batch", s.deps.Auth(http.HandlerFunc(h.DeleteBatch)))
	s.handle(mux, "GET /api/link/query", s.deps.Auth(http.HandlerFunc(h.QueryLink)))
	s.handle(mux, "GET /{slug}", http.HandlerFunc(h.Redirect))

	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, s.deps.Metrics.InstrumentRoute(pattern, h))
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	chained := httpx.Chain(
		httpx.Recovery(s.logger),                   // Outermost: catch panics
		httpx.RequestID,                            // Add request ID
		httpx.Logger(s.logger),                     // Log requests
		httpx.CORS(s.config.Server.AllowedOrigins), // CORS headers
	)(handler)

	return otelhttp.NewHandler(chained, s.config.Observability.ServiceName)
}

// healthCheckHandler reports the service as healthy when the link store answers a ping.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "ok",
		"service": s.config.Observability.ServiceName,
		"version": s.config.Observability.ServiceVersion,
		"store":   s.config.Store.Backend,
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err.Error())
			body["status"] = "unavailable"
			httpx.WriteJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, body)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
