// Package server builds the application's dependencies and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/api"
	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/clock/system"
	"github.com/JakeFAU/billboard-chart-crawler/internal/config"
	"github.com/JakeFAU/billboard-chart-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/billboard-chart-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/billboard-chart-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/billboard-chart-crawler/internal/hash/sha256"
	"github.com/JakeFAU/billboard-chart-crawler/internal/id/uuid"
	"github.com/JakeFAU/billboard-chart-crawler/internal/logging"
	"github.com/JakeFAU/billboard-chart-crawler/internal/merge"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
	"github.com/JakeFAU/billboard-chart-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/billboard-chart-crawler/internal/publisher"
	kagglepublisher "github.com/JakeFAU/billboard-chart-crawler/internal/publisher/kaggle"
	gcppublisher "github.com/JakeFAU/billboard-chart-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/billboard-chart-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/billboard-chart-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/billboard-chart-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/billboard-chart-crawler/internal/storage/memory"
	miniostore "github.com/JakeFAU/billboard-chart-crawler/internal/storage/minio"
	pgstore "github.com/JakeFAU/billboard-chart-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/billboard-chart-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/billboard-chart-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           *system.Clock
	store           chart.BlobStore
	orchestrator    *orchestrator.Orchestrator
	apiServer       *api.Server
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	pgLedger        *pgstore.Ledger
	sqliteLedger    *sqlitestore.Ledger
	tracerProvider  *sdktrace.TracerProvider
	meterProvider   *sdkmetric.MeterProvider
}

// Orchestrator returns the batch runner.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Today is the current calendar date in ingest.timezone.
func (a *App) Today() time.Time {
	return a.clock.Today()
}

// Run ingests every configured chart for one date.
func (a *App) Run(ctx context.Context, date time.Time) (orchestrator.Report, error) {
	return a.orchestrator.Run(ctx, date)
}

// Backfill ingests every weekly date between start and end.
func (a *App) Backfill(ctx context.Context, start, end time.Time) (orchestrator.Report, error) {
	return a.orchestrator.Backfill(ctx, start, end)
}

// Store exposes the configured blob store.
func (a *App) Store() chart.BlobStore {
	return a.store
}

// Handler returns the HTTP handler of the trigger API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP service and blocks until the context is canceled or
// SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.apiServer.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) error {
	if a.apiServer != nil {
		a.apiServer.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	if a.sqliteLedger != nil {
		if err := a.sqliteLedger.Close(); err != nil {
			a.logger.Warn("sqlite ledger close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("meter shutdown failed", zap.Error(err))
		}
	}
	// Sync on stderr-backed loggers fails with EINVAL on some platforms.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies. On error every client opened
// so far is closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("charts", len(a.cfg.Charts)),
		zap.String("storage", a.cfg.Storage.Backend),
		zap.String("fetch_mode", a.cfg.Fetch.Mode),
	)

	if err := a.setupTelemetry(ctx); err != nil {
		return err
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	a.clock = system.New(loc)

	if a.store, err = a.setupStorage(ctx); err != nil {
		return err
	}
	fetcher, err := a.setupFetcher()
	if err != nil {
		return err
	}
	ledger, err := a.setupLedger(ctx)
	if err != nil {
		return err
	}
	pub, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	pacer := ratelimit.New(ratelimit.Config{
		MinInterval: a.cfg.MinInterval(),
		Burst:       a.cfg.Fetch.Burst,
	})
	sched := scheduler.New(fetcher, pacer, scheduler.Config{
		Concurrency: a.cfg.Fetch.Concurrency,
		Timeout:     a.cfg.FetchTimeout(),
	}, a.logger.Named("scheduler"))

	idGen := uuid.New()
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		BaseURL:      a.cfg.Fetch.BaseURL,
		Charts:       a.cfg.ChartSpecs(),
		LocalDir:     a.cfg.Publish.LocalDir,
		VersionNote:  a.cfg.Publish.VersionNote,
		SkipIngested: a.cfg.Ingest.SkipIngested,
	}, orchestrator.Deps{
		Scheduler: sched,
		Extractor: extract.New(extract.Config{Strict: a.cfg.Ingest.Strict}, a.logger.Named("extract")),
		Store:     a.store,
		Merger:    merge.New(a.store, a.logger.Named("merge")),
		Ledger:    ledger,
		Publisher: pub,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		IDs:       idGen,
		Logger:    a.logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(a.orchestrator, idGen, a.clock, *a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	return nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	var processors []sdktrace.SpanProcessor
	if a.cfg.Telemetry.GCPProjectID != "" {
		gcp, err := telemetry.NewGCPSpanProcessor(a.cfg.Telemetry.GCPProjectID)
		if err != nil {
			return err
		}
		processors = append(processors, gcp)
		a.logger.Info("exporting traces to Cloud Trace", zap.String("project", a.cfg.Telemetry.GCPProjectID))
	}
	var err error
	a.tracerProvider, err = telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName, processors...)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	if a.cfg.Telemetry.OTelMetrics {
		a.meterProvider, err = telemetry.InitMeterProvider(ctx, a.cfg.Telemetry.ServiceName, prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("meter init failed: %w", err)
		}
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (chart.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "minio":
		a.logger.Info("using MinIO storage backend",
			zap.String("endpoint", a.cfg.Storage.MinIO.Endpoint),
			zap.String("bucket", a.cfg.Storage.Bucket),
		)
		store, err := miniostore.New(miniostore.Config{
			Endpoint:  a.cfg.Storage.MinIO.Endpoint,
			Bucket:    a.cfg.Storage.Bucket,
			AccessKey: a.cfg.Storage.MinIO.AccessKey,
			SecretKey: a.cfg.Storage.MinIO.SecretKey,
			UseSSL:    a.cfg.Storage.MinIO.UseSSL,
			Region:    a.cfg.Storage.MinIO.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		return store, nil
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend; datasets are lost on exit")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupFetcher() (chart.Fetcher, error) {
	if a.cfg.Fetch.Mode == config.FetchModeHeadless {
		var err error
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      a.cfg.Headless.WaitSelector,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return a.headless, nil
	}
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Fetch.UserAgent),
		zap.Int("cache_size", a.cfg.Fetch.CacheSize),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Fetch.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
		Cache:     collyfetcher.NewPageCache(a.cfg.Fetch.CacheSize, a.cfg.CacheTTL()),
	}), nil
}

func (a *App) setupLedger(ctx context.Context) (chart.Ledger, error) {
	switch a.cfg.Ledger.Backend {
	case "postgres":
		var err error
		a.pgLedger, err = pgstore.NewLedger(ctx, pgstore.Config{
			DSN:      a.cfg.Ledger.DSN,
			Table:    a.cfg.Ledger.Table,
			MaxConns: a.cfg.Ledger.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres ledger init failed: %w", err)
		}
		a.logger.Info("postgres ledger initialized", zap.String("table", a.cfg.Ledger.Table))
		return a.pgLedger, nil
	case "sqlite":
		var err error
		a.sqliteLedger, err = sqlitestore.Open(ctx, a.cfg.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite ledger init failed: %w", err)
		}
		a.logger.Info("sqlite ledger initialized", zap.String("path", a.cfg.Ledger.DSN))
		return a.sqliteLedger, nil
	case "memory":
		a.logger.Info("in-memory ledger initialized")
		return memorystorage.NewLedger(), nil
	default:
		a.logger.Info("no ingestion ledger configured")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (chart.Publisher, error) {
	var pubs publisher.Multi
	for _, backend := range a.cfg.Publish.Backends {
		switch backend {
		case "kaggle":
			pubs = append(pubs, kagglepublisher.New(kagglepublisher.Config{
				Binary:  a.cfg.Publish.Kaggle.Binary,
				DirMode: a.cfg.Publish.Kaggle.DirMode,
			}, nil, a.logger.Named("kaggle")))
			a.logger.Info("kaggle publisher enabled", zap.String("dir", a.cfg.Publish.LocalDir))
		case "pubsub":
			var err error
			a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.Publish.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("pubsub client init failed: %w", err)
			}
			a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.Publish.PubSub.TopicName)
			pubs = append(pubs, gcppublisher.New(a.pubsubPublisher))
			a.logger.Info("Pub/Sub publisher initialized",
				zap.String("project", a.cfg.Publish.PubSub.ProjectID),
				zap.String("topic", a.cfg.Publish.PubSub.TopicName),
			)
		}
	}
	if len(pubs) == 0 {
		a.logger.Info("no dataset publisher configured")
		return nil, nil
	}
	return pubs, nil
}
