// Package app wires the entitlement service together: configuration,
// logging, telemetry, the record store, the lifecycle manager, and the HTTP
// surface. It owns startup order and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"entitle/internal/config"
	"entitle/internal/fingerprint"
	"entitle/internal/infrastructure"
	"entitle/internal/license"
	"entitle/internal/middleware"
	"entitle/internal/services"
	"entitle/internal/store"
	transport "entitle/internal/transport/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Application is the composed entitlement service.
type Application struct {
	config  *config.Config
	logger  *slog.Logger
	otel    *infrastructure.OTelProviders
	store   *store.LicenseStore
	manager *license.Manager
	gate    *middleware.LicenseGate
	server  *http.Server
}

// NewApplication builds the service from configuration. Components are
// initialized in dependency order; any failure aborts startup.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the service from an already-loaded
// configuration. Used by tests and the admin CLI.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	metrics, err := infrastructure.NewLicenseMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("create license metrics: %w", err)
	}

	licenseStore, err := store.Open(cfg.License.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open license store: %w", err)
	}

	resolver := fingerprint.NewSystemResolver(cfg.Fingerprint.DisableHardwareProbes, logger)

	manager, err := license.NewManager(license.ManagerConfig{
		Store:           licenseStore,
		Resolver:        resolver,
		Policy:          license.NewPolicy(cfg.License.TrialDays),
		Secret:          cfg.License.Secret,
		Logger:          logger,
		Metrics:         metrics,
		StateFilePath:   cfg.License.StateFilePath,
		ActivationRate:  cfg.License.ActivationRate,
		ActivationBurst: cfg.License.ActivationBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("create license manager: %w", err)
	}

	licenseService := services.NewLicenseService(manager, logger)
	licenseHandler := transport.NewLicenseHandler(licenseService, logger)
	healthHandler := transport.NewHealthHandler(licenseStore, Version)
	gate := middleware.NewLicenseGate(manager, logger, cfg.License.CacheTTL)

	router := transport.NewRouter(transport.RouterConfig{
		License: licenseHandler,
		Health:  healthHandler,
		Metrics: providers.PrometheusHTTP,
		Gate:    gate.Handler,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("localhost:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		config:  cfg,
		logger:  logger,
		otel:    providers,
		store:   licenseStore,
		manager: manager,
		gate:    gate,
		server:  server,
	}, nil
}

// Manager exposes the lifecycle manager for CLI use.
func (a *Application) Manager() *license.Manager { return a.manager }

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("entitlement service listening",
			slog.String("addr", a.server.Addr),
			slog.String("version", Version))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop shuts the service down: drain HTTP, flush telemetry, close the store.
func (a *Application) Stop() error {
	a.logger.Info("entitlement service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}
	return nil
}

// WaitUntilReady polls the health endpoint until the server answers or the
// timeout elapses. Test helper for end-to-end flows.
func (a *Application) WaitUntilReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s/api/health", a.server.Addr)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %s", timeout)
}
