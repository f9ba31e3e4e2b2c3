package main

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/api"
	"github.com/kerna-app/kerna/pkg/archive"
	"github.com/kerna-app/kerna/pkg/auth"
	"github.com/kerna-app/kerna/pkg/billing"
	"github.com/kerna-app/kerna/pkg/config"
	"github.com/kerna-app/kerna/pkg/extract"
	"github.com/kerna-app/kerna/pkg/generate"
	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/middleware"
	"github.com/kerna-app/kerna/pkg/notify"
	"github.com/kerna-app/kerna/pkg/observability"
	"github.com/kerna-app/kerna/pkg/plans"
	"github.com/kerna-app/kerna/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Gemini.APIKey == "" {
		logrus.Fatal("KERNA_GEMINI_API_KEY is required")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	slogger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stderr)

	ctx := context.Background()

	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer db.Close()
	if err := storage.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	catalogs := loadCatalogs(cfg, logger)
	defer catalogs.Close()

	generator, err := generate.NewGeminiGenerator(ctx, cfg.Gemini.APIKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Gemini client")
	}
	defer generator.Close()

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ledgerSvc := ledger.NewPostgresLedger(db, catalogs, logger).WithMetrics(metrics)
	authSvc := auth.NewService(db, logger)

	var oidcClient *auth.OIDCClient
	if cfg.Auth.OIDCClientID != "" {
		oidcClient, err = auth.NewOIDCClient(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize OIDC client")
		}
	}

	var docStore archive.Store
	if cfg.Archive.Enabled {
		s3Store, err := archive.NewS3Store(ctx, archive.Config{
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize document archive")
		}
		docStore = s3Store
	}

	var genLimiter *middleware.DistributedRateLimiter
	if redisClient != nil {
		genLimiter = middleware.NewDistributedRateLimiter(
			redisClient, middleware.GenerationRateLimitConfig(), "ratelimit:gen", logger)
	}

	server := api.NewServer(api.Deps{
		Ledger:     ledgerSvc,
		Runner:     generate.NewRunner(ledgerSvc, catalogs, generator, logger),
		Catalogs:   catalogs,
		Auth:       authSvc,
		OIDC:       oidcClient,
		Billing:    billing.NewHandler(ledgerSvc, catalogs, logger),
		Scraper:    extract.NewScraper(logger),
		Archive:    docStore,
		Notifier:   notify.NewLogNotifier(logger),
		Sessions:   middleware.NewSessionMiddleware(authSvc, logger),
		GenLimiter: genLimiter,
		Metrics:    metrics,
		Health:     observability.NewHealthChecker(db, redisClient),
		Logger:     logger,
	})
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(server.Router(), registry)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(slogger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Kerna API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

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
