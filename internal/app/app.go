package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"keygated/internal/config"
	"keygated/internal/infrastructure"
	"keygated/internal/keygen"
	"keygated/internal/ledger"
	"keygated/internal/middleware"
	"keygated/internal/services"
	handlers "keygated/internal/transport/http"
)

const Version = "1.0.0"

// Application is the composition root. It owns configuration, the
// ledger store, the service layer and the HTTP server.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Store          *ledger.Store
	Service        services.LicenseService
	Logger         *slog.Logger
	TracerProvider *sdktrace.TracerProvider

	logCloser io.Closer
}

// NewApplication loads configuration and wires every component
// together with dependency injection.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires the application around an already
// loaded configuration. Tests use it to inject temp paths.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, closer, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port),
		slog.String("ledger_file", cfg.Paths.LedgerFile))

	if secretDefault, tokenDefault := cfg.UsingDefaultSecrets(); secretDefault || tokenDefault {
		logger.Warn("running with built-in default secrets; set KEYGATE_SECURITY_DERIVATION_SECRET and KEYGATE_SECURITY_ADMIN_TOKEN in production",
			slog.Bool("default_derivation_secret", secretDefault),
			slog.Bool("default_admin_token", tokenDefault))
	}

	tracerProvider, err := infrastructure.InitTracing(cfg.Tracing, Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store := ledger.Open(cfg.Paths.LedgerFile, logger)
	deriver := keygen.NewDeriver(cfg.Security.DerivationSecret)
	metrics := services.NewMetrics()
	service := services.NewLicenseService(store, deriver, logger, metrics, services.Options{
		EnforceRevocation: cfg.Security.EnforceRevocation,
	})

	app := &Application{
		Config:         cfg,
		Store:          store,
		Service:        service,
		Logger:         logger,
		TracerProvider: tracerProvider,
		logCloser:      closer,
	}
	app.Router = app.buildRouter(metrics)
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func (a *Application) buildRouter(metrics *services.Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.SecurityHeaders)
	if a.Config.Security.EnableCORS {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
		}))
	}

	gate := middleware.NewAdminGate(a.Config.Security.AdminToken, a.Logger)

	requestHandler := handlers.NewRequestHandler(a.Service, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.Service, a.Logger)
	healthHandler := handlers.NewHealthHandler(metrics.Registry())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/", requestHandler.Routes())
		r.Route("/admin", func(r chi.Router) {
			r.Use(gate.Require)
			r.Mount("/", adminHandler.Routes())
		})
	})
	r.Mount("/", healthHandler.Routes())

	return r
}

// Run starts the HTTP server and blocks until the process receives
// SIGINT or SIGTERM, then drains in-flight requests.
func (a *Application) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down")
	err := a.Server.Shutdown(ctx)
	if a.TracerProvider != nil {
		if terr := a.TracerProvider.Shutdown(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	if a.logCloser != nil {
		if cerr := a.logCloser.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
