package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/alerting"
	"github.com/churchsync/chms-integration/internal/infrastructure/auth"
	"github.com/churchsync/chms-integration/internal/infrastructure/cache"
	"github.com/churchsync/chms-integration/internal/infrastructure/chms"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
	"github.com/churchsync/chms-integration/internal/infrastructure/persistence"
	"github.com/churchsync/chms-integration/internal/infrastructure/scheduler"
	"github.com/churchsync/chms-integration/internal/infrastructure/storage"
	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
	"github.com/churchsync/chms-integration/internal/interfaces/http/handler"
	"github.com/churchsync/chms-integration/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CHMS sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Sync engine stopped with error", zap.Error(err))
	}
	log.Info("Sync engine exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	defer shutdownWith(log, "tracer provider", tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	defer shutdownWith(log, "meter provider", mp.Shutdown)
	meter := mp.Meter("chms-integration")

	// Storage
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithGormLogger(logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))),
		persistence.WithTracing(telemetry.DBTracingConfig{
			Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			DBName:  cfg.Database.DBName,
		}, log),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	sqlDB, err := db.SQLDB()
	if err != nil {
		return err
	}
	poolMetrics, err := telemetry.NewDBPoolMetrics(meter, sqlDB)
	if err != nil {
		return err
	}
	defer func() { _ = poolMetrics.Stop() }()

	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		return err
	}

	// Collaborators
	cipher, err := auth.NewCredentialCipher(cfg.Encryption)
	if err != nil {
		return err
	}

	adapters := chms.NewFactory(chms.Options{
		HTTPClient: chms.NewHTTPClient(cfg.Sync.RequestTimeout),
		RetryPolicy: chms.RetryPolicy{
			MaxRetries:   cfg.Sync.MaxRetries,
			InitialDelay: cfg.Sync.InitialDelay,
			MaxDelay:     cfg.Sync.MaxDelay,
			Factor:       cfg.Sync.Factor,
			Jitter:       cfg.Sync.Jitter,
		},
		Logger:       log,
		AllowedHosts: cfg.Sync.AllowedProviderHosts,
	})

	lock, err := cache.NewSyncLockFactory(cfg.Redis, cache.WithLogger(log)).CreateLock(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Close() }()

	var archive appintegration.SyncArchive = storage.NoopSyncArchive{}
	if cfg.Archive.Enabled {
		s3Archive, err := storage.NewS3SyncArchive(ctx, cfg.Archive, storage.WithLogger(log))
		if err != nil {
			return err
		}
		archive = s3Archive
		log.Info("Sync result archive enabled", zap.String("bucket", s3Archive.Bucket()))
	}

	alertOpts := []alerting.MonitorOption{
		alerting.WithNotifier(alerting.NewLogNotifier(log)),
		alerting.WithMetrics(syncMetrics),
	}
	if cfg.Alerts.WebhookURL != "" {
		alertOpts = append(alertOpts, alerting.WithNotifier(
			alerting.NewWebhookNotifier(cfg.Alerts.WebhookURL, alerting.WebhookFormat(cfg.Alerts.WebhookFormat))))
	}
	alerts := alerting.NewMonitor(alerting.Config{
		ErrorThreshold:    cfg.Alerts.ErrorThreshold,
		Window:            cfg.Alerts.Window,
		SlowSyncThreshold: cfg.Alerts.SlowSyncThreshold,
		Cooldown:          cfg.Alerts.Cooldown,
		HistorySize:       cfg.Alerts.HistorySize,
		NotifyTimeout:     cfg.Alerts.NotifyTimeout,
	}, log, alertOpts...)

	policy := appintegration.SyncPolicyFailFast
	if cfg.Sync.IsolatedPolicy() {
		policy = appintegration.SyncPolicyIsolated
	}

	service := appintegration.NewService(
		persistence.NewGormIntegrationRepository(db.DB),
		integration.DefaultRegistry(),
		adapters,
		cipher,
		log,
		appintegration.WithSyncLock(lock, cfg.Sync.LockTTL),
		appintegration.WithSyncArchive(archive),
		appintegration.WithSyncMetrics(syncMetrics),
		appintegration.WithSyncPolicy(policy),
		appintegration.WithSyncObserver(alerts),
	)

	// Ops HTTP server
	engine := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		Mode:           ginMode(cfg.App.Env),
	}, log)
	router.NewRouter(engine).
		Register(handler.NewHealthHandler(db, version)).
		Register(handler.NewIntegrationHandler(service)).
		Register(handler.NewAlertHandler(alerts)).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Ops server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Background sync workers
	var stoppers []func(context.Context) error

	if cfg.Scheduler.Enabled {
		jobTimeout := cfg.Scheduler.JobTimeout
		if jobTimeout <= 0 {
			jobTimeout = cfg.Sync.SyncTimeout
		}
		schedCfg := scheduler.DefaultSyncSchedulerConfig()
		schedCfg.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
		schedCfg.JobTimeout = jobTimeout

		syncScheduler, err := scheduler.NewSyncScheduler(schedCfg, service, log)
		if err != nil {
			return err
		}
		trigger, err := scheduler.NewSyncCronTrigger(cfg.Scheduler.CheckInterval, service, syncScheduler, log)
		if err != nil {
			return err
		}
		if err := syncScheduler.Start(gctx); err != nil {
			return err
		}
		if err := trigger.Start(gctx); err != nil {
			return err
		}
		// Stop the trigger before the workers it feeds.
		stoppers = append(stoppers, trigger.Stop, syncScheduler.Stop)
	}

	if cfg.Watchdog.Enabled {
		watchdog, err := scheduler.NewStaleSyncWatchdog(cfg.Watchdog.CheckInterval, cfg.Watchdog.StaleAfter, service, log)
		if err != nil {
			return err
		}
		if err := watchdog.Start(gctx); err != nil {
			return err
		}
		stoppers = append(stoppers, watchdog.Stop)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down sync engine...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// pending alert notifications go out after the last sync has finished
		stoppers = append(stoppers, alerts.Stop)
		for _, stopFn := range stoppers {
			if err := stopFn(shutdownCtx); err != nil {
				log.Warn("Background worker did not stop cleanly", zap.Error(err))
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ginMode(env string) string {
	if env == "production" {
		return "release"
	}
	return "debug"
}

func shutdownWith(log *zap.Logger, name string, fn func(context.Context) error) {
	if err := fn(context.Background()); err != nil {
		log.Error("Error shutting down "+name, zap.Error(err))
	}
}
