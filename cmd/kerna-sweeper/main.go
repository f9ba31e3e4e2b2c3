package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/auth"
	"github.com/kerna-app/kerna/pkg/config"
	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/observability"
	"github.com/kerna-app/kerna/pkg/plans"
	"github.com/kerna-app/kerna/pkg/storage"
)

var (
	sweepSchedule   = flag.String("sweep-schedule", "0 * * * *", "Cron schedule for the ledger sweep (default: every hour)")
	sessionSchedule = flag.String("session-schedule", "30 3 * * *", "Cron schedule for expired-session cleanup (default: 03:30)")
	metricsAddr     = flag.String("metrics-addr", "", "Address for the sweeper's /metrics endpoint (empty disables it)")
	runOnce         = flag.Bool("run-once", false, "Run one sweep cycle and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer db.Close()

	catalogs := loadCatalogs(cfg, logger)
	defer catalogs.Close()

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ledgerSvc := ledger.NewPostgresLedger(db, catalogs, logger).WithMetrics(metrics)
	sweeper := ledger.NewSweeper(ledgerSvc, logger, metrics)
	authSvc := auth.NewService(db, logger)

	if *runOnce {
		if _, err := sweeper.Sweep(context.Background()); err != nil {
			logger.WithError(err).Fatal("Sweep failed")
		}
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*sweepSchedule, func() {
		if _, err := sweeper.Sweep(context.Background()); err != nil {
			logger.WithError(err).Error("Ledger sweep failed")
		}
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule ledger sweep")
	}

	if _, err := c.AddFunc(*sessionSchedule, func() {
		deleted, err := authSvc.DeleteExpiredSessions(context.Background())
		if err != nil {
			logger.WithError(err).Error("Session cleanup failed")
			return
		}
		logger.WithField("deleted", deleted).Info("Expired sessions removed")
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule session cleanup")
	}

	if *metricsAddr != "" && metrics != nil {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.WithError(err).Error("Metrics endpoint failed")
			}
		}()
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"sweep_schedule":   *sweepSchedule,
		"session_schedule": *sessionSchedule,
	}).Info("Kerna sweeper started")

	slogger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stderr)
	shutdown := observability.NewShutdownManager(slogger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func loadCatalogs(cfg *config.Config, logger *logrus.Logger) *plans.Provider {
	if cfg.PlanCatalogPath == "" {
		return plans.NewStaticProvider(plans.DefaultCatalog())
	}
	provider, err := plans.NewFileProvider(cfg.PlanCatalogPath, logger)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.PlanCatalogPath).
			Warn("Failed to load plan catalog, using defaults")
		return plans.NewStaticProvider(plans.DefaultCatalog())
	}
	return provider
}
