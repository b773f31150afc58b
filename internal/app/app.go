package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"iwlicense/internal/backup"
	"iwlicense/internal/config"
	"iwlicense/internal/infrastructure"
	"iwlicense/internal/license"
	"iwlicense/internal/ratelimit"
	"iwlicense/internal/store"
	transport "iwlicense/internal/transport/http"
)

// Application is the dependency container for the license server. All
// wiring happens in NewApplication; Run only starts and stops things.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *infrastructure.MetricsProviders

	Manager   *license.Manager
	Limiter   *ratelimit.Limiter
	Backups   *backup.Manager
	Scheduler *backup.Scheduler

	Server *http.Server
}

// NewApplication loads configuration and wires every service.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", transport.Version),
		slog.Int("port", cfg.Server.Port))

	metricsProviders, err := infrastructure.InitializeMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	licenseMetrics, err := license.NewMetrics(metricsProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	licenses := store.NewJSONStore[license.License](cfg.LicensesPath(), logger)
	trials := store.NewJSONStore[license.Trial](cfg.TrialsPath(), logger)
	purchases := store.NewAuditLog[license.PurchaseRecord](cfg.PurchasesPath(), logger)
	webhookEvents := store.NewAuditLog[transport.WebhookEvent](cfg.WebhookLogPath(), logger)

	manager := license.NewManager(licenses, trials, purchases, cfg.License, licenseMetrics)

	limiter := ratelimit.New(cfg.RateLimit, logger)
	if err := limiter.Instrument(metricsProviders.Meter); err != nil {
		return nil, err
	}

	backups := backup.NewManager(
		cfg.Paths.DataDir,
		cfg.BackupsDir(),
		[]string{cfg.Paths.LicensesFile, cfg.Paths.TrialsFile, cfg.Paths.PurchasesFile},
		cfg.Backup,
	)
	if err := backups.Instrument(metricsProviders.Meter); err != nil {
		return nil, err
	}
	scheduler := backup.NewScheduler(backups, cfg.Backup)

	router := transport.NewRouter(transport.RouterDeps{
		Manager:        manager,
		Backups:        backups,
		Limiter:        limiter,
		WebhookEvents:  webhookEvents,
		MetricsHandler: metricsProviders.PrometheusHTTP,
		Config:         cfg,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metricsProviders,
		Manager:   manager,
		Limiter:   limiter,
		Backups:   backups,
		Scheduler: scheduler,
		Server:    server,
	}, nil
}

// Run starts the HTTP server and the backup scheduler and blocks until
// SIGINT/SIGTERM, then shuts down gracefully within the configured timeout.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if a.Config.Backup.Enabled {
		g.Go(func() error {
			if err := a.Scheduler.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("backup scheduler failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()

	if shutdownErr := a.Metrics.MeterProvider.Shutdown(context.Background()); shutdownErr != nil {
		a.Logger.Warn("meter provider shutdown failed", slog.String("error", shutdownErr.Error()))
	}
	if closeErr := infrastructure.CloseLogFile(); closeErr != nil {
		a.Logger.Warn("log file close failed", slog.String("error", closeErr.Error()))
	}

	a.Logger.Info("application stopped")
	return err
}
