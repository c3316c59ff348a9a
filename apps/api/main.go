package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/events"
	provisioninghandler "github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/handler"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/maintenance"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/migration"
	provisioningrepo "github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/repo"
	provisioningservice "github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/stats"
	platformauth "github.com/zenGate-Global/palmyra-provisioning/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-provisioning/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-provisioning/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/storage"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/vault"
)

type config struct {
	Port                string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL         string        `env:"DATABASE_URL,required"`
	DBMaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	AutoMigrate         bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	EnvKey              string        `env:"ENV_KEY,required"`
	VaultSecret         string        `env:"VAULT_SECRET,required,unset"`
	AuthProvider        string        `env:"AUTH_PROVIDER" envDefault:"firebase"`
	FirebaseCredentials string        `env:"FIREBASE_CONFIG"`
	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	HostingDomain       string        `env:"HOSTING_DOMAIN" envDefault:"supabase.co"`
	WaitHoursPerTask    float64       `env:"WAIT_HOURS_PER_TASK" envDefault:"0.5"`
	ServiceHoursPerTask float64       `env:"SERVICE_HOURS_PER_TASK" envDefault:"2"`
	StepTimeout         time.Duration `env:"STEP_TIMEOUT" envDefault:"2m"`
	ProbeTimeout        time.Duration `env:"PROBE_TIMEOUT" envDefault:"15s"`
	MigrationWorkers    int           `env:"MIGRATION_WORKERS" envDefault:"4"`
	MigrationQueueSize  int           `env:"MIGRATION_QUEUE_SIZE" envDefault:"64"`
	Notifier            string        `env:"NOTIFIER" envDefault:"log"` // log | pubsub
	PubSubProjectID     string        `env:"PUBSUB_PROJECT_ID"`
	PubSubTopic         string        `env:"PUBSUB_TOPIC" envDefault:"provisioning-events"`
	NotifyRatePerSec    int           `env:"NOTIFY_RATE_PER_SEC" envDefault:"10"`
	RedisAddr           string        `env:"REDIS_ADDR"` // empty disables the stats cache
	StatsCacheTTL       time.Duration `env:"STATS_CACHE_TTL" envDefault:"30s"`
	MaintenanceSchedule string        `env:"MAINTENANCE_SCHEDULE" envDefault:"@every 1m"`
	StalledAfter        time.Duration `env:"STALLED_AFTER" envDefault:"5m"`
	ReportBackend       string        `env:"REPORT_BACKEND" envDefault:"none"` // none | gcs | local
	ReportBucket        string        `env:"REPORT_BUCKET"`                    // required when REPORT_BACKEND=gcs
	ReportLocalDir      string        `env:"REPORT_LOCAL_DIR" envDefault:"./.data/reports"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "provisioning-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.AutoMigrate {
		version, err := persistence.Migrate(cfg.DatabaseURL, persistence.MigrateUp)
		if err != nil {
			logger.Fatal("apply platform migrations", zap.Error(err))
		}
		logger.Info("platform schema ready", zap.Uint("version", version))
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "palmyra-provisioning-api",
		MaxConns:        cfg.DBMaxConns,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	credentialVault, err := vault.New(cfg.VaultSecret)
	if err != nil {
		logger.Fatal("init credential vault", zap.Error(err))
	}

	catalog, err := migration.DefaultCatalog()
	if err != nil {
		logger.Fatal("load migration templates", zap.Error(err))
	}

	dialer := remotedb.AutoDialer{
		Direct: remotedb.PgxDialer{HostingDomain: cfg.HostingDomain, ConnectTimeout: cfg.ProbeTimeout},
		REST:   remotedb.RESTDialer{HTTPClient: &http.Client{Timeout: cfg.StepTimeout}},
	}

	notifier, closeNotifier := buildNotifier(ctx, cfg, logger)
	defer closeNotifier()
	eventValidator, err := events.NewValidator()
	if err != nil {
		logger.Fatal("compile event schemas", zap.Error(err))
	}
	dispatcher := events.NewDispatcher(eventValidator, notifier, cfg.NotifyRatePerSec, logger.Named("events"))

	var (
		statsCache provisioningservice.StatsCache
		refresher  maintenance.StatsRefresher
		readiness  = []readinessCheck{{name: "postgres", check: pool.Ping}}
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		cache := stats.NewCache(redisClient, "palmyra:"+cfg.EnvKey+":provisioning", cfg.StatsCacheTTL, logger.Named("stats"))
		statsCache, refresher = cache, cache
		readiness = append(readiness, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	reports, reportCheck, closeReports := buildReportStore(ctx, cfg, logger)
	defer closeReports()
	if reportCheck != nil {
		readiness = append(readiness, readinessCheck{name: "reports", check: reportCheck})
	}

	repo := provisioningrepo.NewPostgresRepository(pool)

	runner := migration.NewRunner(migration.RunnerDeps{
		Repo:     repo,
		Vault:    credentialVault,
		Dialer:   dialer,
		Catalog:  catalog,
		Executor: migration.NewExecutor(cfg.StepTimeout, logger.Named("migration")),
		Events:   dispatcher,
		Reports:  reports,
		Stats:    statsCache,
		Logger:   logger.Named("migration"),
	})
	worker := migration.NewWorker(runner, cfg.MigrationWorkers, cfg.MigrationQueueSize, logger.Named("worker"))
	// Migrations outlive the signal; worker.Stop drains them within SHUTDOWN_TIMEOUT.
	worker.Start(context.WithoutCancel(ctx))

	provisioningService := provisioningservice.New(provisioningservice.Deps{
		Repo:       repo,
		Vault:      credentialVault,
		Dialer:     dialer,
		Migrations: worker,
		Events:     dispatcher,
		Catalog:    catalog,
		Waits: provisioningservice.LinearWaitPolicy{
			HoursPerTask: cfg.WaitHoursPerTask,
			ServiceHours: cfg.ServiceHoursPerTask,
		},
		Stats:  statsCache,
		Logger: logger.Named("provisioning"),
	}, provisioningservice.Config{
		HostingDomain: cfg.HostingDomain,
		ProbeTimeout:  cfg.ProbeTimeout,
	})
	provisioningHTTPHandler := provisioninghandler.New(provisioningService, logger)

	scheduler, err := maintenance.New(provisioningService, refresher, maintenance.Config{
		Schedule:     cfg.MaintenanceSchedule,
		StalledAfter: cfg.StalledAfter,
	}, logger.Named("maintenance"))
	if err != nil {
		logger.Fatal("init maintenance scheduler", zap.Error(err))
	}
	scheduler.Start(ctx)

	authMiddleware := buildAuthMiddleware(ctx, cfg, logger)
	specValidator := mustNewSpecValidator(logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.CORS(cfg.CORSAllowedOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readyHandler(readiness, logger))

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Group(func(r chi.Router) {
		r.Use(specValidator)
		provisioningHTTPHandler.RegisterPublic(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireAdmin)
		r.Use(specValidator)
		provisioningHTTPHandler.RegisterAdmin(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("stop maintenance scheduler", zap.Error(err))
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Error("stop migration worker", zap.Error(err))
	}
}

func buildNotifier(ctx context.Context, cfg config, logger *zap.Logger) (events.Notifier, func()) {
	switch cfg.Notifier {
	case "log":
		return events.LogNotifier{Logger: logger.Named("notifier")}, func() {}
	case "pubsub":
		if cfg.PubSubProjectID == "" {
			logger.Fatal("PUBSUB_PROJECT_ID required when NOTIFIER=pubsub")
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			logger.Fatal("init pubsub client", zap.Error(err))
		}
		notifier, err := events.NewPubSubNotifier(ctx, client, cfg.PubSubTopic)
		if err != nil {
			_ = client.Close()
			logger.Fatal("init pubsub notifier", zap.Error(err))
		}
		return notifier, func() {
			notifier.Stop()
			_ = client.Close()
		}
	default:
		logger.Fatal("invalid NOTIFIER (use log or pubsub)", zap.String("notifier", cfg.Notifier))
		return nil, nil
	}
}

func buildReportStore(ctx context.Context, cfg config, logger *zap.Logger) (migration.ReportStore, func(context.Context) error, func()) {
	switch cfg.ReportBackend {
	case "none":
		return nil, nil, func() {}
	case "gcs":
		if cfg.ReportBucket == "" {
			logger.Fatal("report bucket required when REPORT_BACKEND=gcs")
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		store := storage.NewGCSReportStore(client, cfg.ReportBucket, cfg.EnvKey, logger.Named("reports"))
		return store, store.Check, func() { _ = client.Close() }
	case "local":
		store := storage.NewLocalReportStore(cfg.ReportLocalDir, cfg.EnvKey)
		return store, store.Check, func() {}
	default:
		logger.Fatal("invalid REPORT_BACKEND (use none, gcs or local)", zap.String("backend", cfg.ReportBackend))
		return nil, nil, nil
	}
}
