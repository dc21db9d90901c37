package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sundayezeilo/linkgate/internal/auth"
	"github.com/sundayezeilo/linkgate/internal/captcha"
	"github.com/sundayezeilo/linkgate/internal/config"
	"github.com/sundayezeilo/linkgate/internal/idgen"
	"github.com/sundayezeilo/linkgate/internal/linkstore"
	"github.com/sundayezeilo/linkgate/internal/metrics"
	"github.com/sundayezeilo/linkgate/internal/server"
	"github.com/sundayezeilo/linkgate/internal/shortener"
	"github.com/sundayezeilo/linkgate/internal/slug"
	"github.com/sundayezeilo/linkgate/internal/telemetry"
	"github.com/sundayezeilo/linkgate/sluggen"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   linkstore.Store
	Server  *server.Server
	Handler *shortener.Handler

	backend  *backend
	shutdown []func(context.Context) error
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"store", cfg.Store.Backend,
	)

	return Build(ctx, cfg, logger)
}

// Build wires every component from an already loaded configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.App.Environment,
		Endpoint:       cfg.Observability.OTelEndpoint,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = append(a.shutdown, shutdownTracing)

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.NewWithRuntime(reg)
		gatherer = reg
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	a.backend = b
	a.shutdown = append(a.shutdown, b.close)
	a.Store = linkstore.Instrument(b.store, cfg.Store.Timeout, m)

	var verifier captcha.Verifier
	if cfg.Auth.CaptchaEnabled() {
		verifier = captcha.NewClient(captcha.Config{
			Secret:    cfg.Auth.CaptchaSecret,
			VerifyURL: cfg.Auth.CaptchaVerifyURL,
			Timeout:   cfg.Auth.CaptchaTimeout,
		})
	} else {
		logger.Warn("captcha secret not configured; only bearer tokens can create links")
	}

	authenticator, err := auth.New(auth.Config{
		SiteToken: cfg.Auth.SiteToken,
		Verifier:  verifier,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	policy, err := slugPolicy(cfg.Links)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	svc := shortener.NewService(a.Store, authenticator, &shortener.ServiceConfig{
		Slugs:             policy,
		IDGenerator:       idgen.V7(),
		KeyPrefix:         cfg.Store.KeyPrefix,
		DefaultTTL:        cfg.Links.DefaultTTL,
		MaxTTL:            cfg.Links.MaxTTL,
		SlugMaxRetries:    cfg.Links.SlugMaxRetries,
		DeleteConcurrency: cfg.Links.DeleteConcurrency,
		Metrics:           m,
	})
	a.Handler = shortener.NewHandler(shortener.HandlerConfig{
		Service:    svc,
		Logger:     logger,
		BaseURL:    cfg.Server.BaseURL,
		TrustProxy: cfg.Server.TrustProxy,
	})

	a.Server = server.New(cfg, logger, server.Deps{
		Handler:  a.Handler,
		Store:    a.Store,
		Metrics:  m,
		Auth:     authenticator.Middleware,
		Gatherer: gatherer,
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"captcha", verifier != nil,
		"metrics", m != nil,
		"case_sensitive_slugs", policy.CaseSensitive(),
	)

	return a, nil
}

func slugPolicy(cfg config.LinkConfig) (*slug.Policy, error) {
	var gen sluggen.Generator
	if cfg.SlugGenerator == config.GeneratorSnowflake {
		g, err := sluggen.NewSnowflake(cfg.SnowflakeNode, cfg.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("failed to create slug generator: %w", err)
		}
		gen = g
	}

	return slug.NewPolicy(slug.Config{
		CaseSensitive: cfg.CaseSensitive,
		Reserved:      cfg.ReservedSlugs,
		Generator:     gen,
		Length:        cfg.SlugLength,
	}), nil
}

// Start starts the background janitor and the application server. It blocks
// until the server stops.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.backend != nil && a.backend.expirer != nil {
		go linkstore.RunJanitor(ctx, a.backend.expirer, janitorInterval, a.Logger)
	}

	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases the store connections and flushes pending traces,
// in reverse order of creation.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.Config))
	defer cancel()

	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdown = nil
	return errors.Join(errs...)
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
