// Package server builds the long-lived sitewatch services from configuration
// and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/api"
	"github.com/JakeFAU/sitewatch/internal/clock/system"
	"github.com/JakeFAU/sitewatch/internal/config"
	"github.com/JakeFAU/sitewatch/internal/events"
	"github.com/JakeFAU/sitewatch/internal/events/sinks"
	collyfetcher "github.com/JakeFAU/sitewatch/internal/fetcher/colly"
	"github.com/JakeFAU/sitewatch/internal/hash/sha256"
	"github.com/JakeFAU/sitewatch/internal/metrics"
	"github.com/JakeFAU/sitewatch/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sitewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/sitewatch/internal/schedule"
	"github.com/JakeFAU/sitewatch/internal/seed"
	gcsstorage "github.com/JakeFAU/sitewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitewatch/internal/storage/local"
	memorystore "github.com/JakeFAU/sitewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitewatch/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/sitewatch/internal/storage/sqlite"
	"github.com/JakeFAU/sitewatch/internal/watch"
	"github.com/JakeFAU/sitewatch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     watch.Store
	bus       *events.Bus
	scheduler *schedule.Scheduler
	apiServer *api.Server
	seeds     []watch.Resource
}

// Build creates the application's dependencies. The registry is seeded from
// the configured seed file when it holds no resources.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	var err error
	app.store, err = OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app.seeds, err = LoadSeeds(cfg, logger)
	if err != nil {
		app.closeStore()
		return nil, err
	}
	added, err := seed.ApplyIfEmpty(ctx, app.store, app.seeds, logger.Named("seed"))
	if err != nil {
		app.closeStore()
		return nil, fmt.Errorf("seed registry: %w", err)
	}
	if added > 0 {
		app.logger.Info("registry seeded", zap.Int("resources", added))
	}

	sinkList, err := setupSinks(ctx, app)
	if err != nil {
		app.closeStore()
		return nil, err
	}
	app.bus = setupBus(ctx, app, sinkList)
	app.scheduler = setupScheduler(app)

	app.apiServer = api.NewServer(app.store, app.bus, api.Options{
		DefaultInterval: watch.Interval(cfg.Watch.DefaultIntervalSeconds),
		StaticDir:       cfg.Server.StaticDir,
		Heartbeat:       cfg.SSEHeartbeat(),
		Reset:           app.reset,
	}, logger.Named("api"))

	return app, nil
}

// OpenStore opens the configured registry and history backend and applies
// its schema.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (watch.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		logger.Info("using postgres storage backend")
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:       cfg.Storage.DSN,
			Retention: cfg.Watch.Retention,
			MaxConns:  cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		logger.Info("using sqlite storage backend", zap.String("path", cfg.Storage.SQLitePath))
		store, err := sqlitestore.Open(ctx, cfg.Storage.SQLitePath, cfg.Watch.Retention, logger.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return store, nil
	default:
		logger.Info("using in-memory storage backend")
		return memorystore.New(cfg.Watch.Retention), nil
	}
}

// LoadSeeds reads the configured seed file. A missing file yields no seeds.
func LoadSeeds(cfg config.Config, logger *zap.Logger) ([]watch.Resource, error) {
	if cfg.Watch.SeedFile == "" {
		return nil, nil
	}
	entries, err := seed.Load(cfg.Watch.SeedFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("seed file not found, starting without seeds", zap.String("path", cfg.Watch.SeedFile))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	return seed.Resources(entries, watch.Interval(cfg.Watch.DefaultIntervalSeconds)), nil
}

func setupSinks(ctx context.Context, app *App) ([]events.Sink, error) {
	var sinkList []events.Sink
	fail := func(err error) ([]events.Sink, error) {
		for _, s := range sinkList {
			_ = s.Close(ctx)
		}
		return nil, err
	}

	if app.cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("events_log")))
		app.logger.Debug("added log sink")
	}
	if app.cfg.Events.MetricsEnabled {
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fail(fmt.Errorf("prometheus sink init failed: %w", err))
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("added prometheus sink")
	}
	if app.cfg.PubSub.ProjectID != "" && app.cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("pubsub client init failed: %w", err))
		}
		pubSink, err := sinks.NewPublishSink(pub, app.cfg.PubSub.TopicName, app.logger.Named("events_pubsub"))
		if err != nil {
			_ = pub.Close()
			return fail(fmt.Errorf("pubsub sink init failed: %w", err))
		}
		sinkList = append(sinkList, pubSink)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	} else {
		app.logger.Debug("no Pub/Sub topic configured")
	}

	blobs, err := setupArchive(ctx, app)
	if err != nil {
		return fail(err)
	}
	if blobs != nil {
		archive, err := sinks.NewArchiveSink(blobs, app.store, app.cfg.Archive.Prefix, app.logger.Named("events_archive"))
		if err != nil {
			_ = blobs.Close()
			return fail(fmt.Errorf("archive sink init failed: %w", err))
		}
		sinkList = append(sinkList, archive)
	}
	return sinkList, nil
}

func setupArchive(ctx context.Context, app *App) (sinks.BlobStore, error) {
	switch {
	case app.cfg.Archive.GCSBucket != "":
		app.logger.Info("archiving changes to GCS", zap.String("bucket", app.cfg.Archive.GCSBucket))
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: app.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case app.cfg.Archive.Dir != "":
		app.logger.Info("archiving changes to local directory", zap.String("path", app.cfg.Archive.Dir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		return nil, nil
	}
}

func setupBus(ctx context.Context, app *App, sinkList []events.Sink) *events.Bus {
	busCfg := events.Config{
		SubscriberBuffer: app.cfg.Events.BufferSize,
		MaxBatchEvents:   app.cfg.Events.SinkBatchSize,
		MaxBatchWait:     app.cfg.SinkBatchWait(),
		SinkTimeout:      app.cfg.SinkTimeout(),
		BaseContext:      context.WithoutCancel(ctx),
		Logger:           app.logger.Named("events"),
	}
	app.logger.Info("event bus initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("subscriber_buffer", busCfg.SubscriberBuffer),
		zap.Int("max_batch_events", busCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", busCfg.MaxBatchWait),
		zap.Duration("sink_timeout", busCfg.SinkTimeout),
	)
	return events.NewBus(busCfg, sinkList...)
}

func setupScheduler(app *App) *schedule.Scheduler {
	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents: app.cfg.HTTP.UserAgents,
		Timeout:    app.cfg.FetchTimeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS:   app.cfg.HTTP.PerHostRPS,
		PerHostBurst: app.cfg.HTTP.PerHostBurst,
	})
	if app.cfg.HTTP.PerHostRPS > 0 {
		app.logger.Info("per-host rate limiting enabled",
			zap.Float64("rps", app.cfg.HTTP.PerHostRPS),
			zap.Int("burst", app.cfg.HTTP.PerHostBurst),
		)
	}

	checker := worker.New(
		app.store,
		app.store,
		fetcher,
		limiter,
		app.bus,
		sha256.New(),
		clock,
		worker.Config{PreviewMaxLength: app.cfg.Watch.PreviewMaxLength},
		app.logger.Named("worker"),
	)
	schedCfg := schedule.Config{Tick: app.cfg.Tick(), JitterMax: app.cfg.JitterMax()}
	app.logger.Info("scheduler config",
		zap.Duration("tick", schedCfg.Tick),
		zap.Duration("jitter_max", schedCfg.JitterMax),
		zap.Duration("fetch_timeout", app.cfg.FetchTimeout()),
	)
	return schedule.New(app.store, checker, clock, nil, schedCfg, app.logger.Named("scheduler"))
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduler stopped", zap.Error(err))
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close flushes the event sinks and releases the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			a.logger.Warn("event bus close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", zap.Error(err))
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// reset drops every resource and all history, then reapplies the seeds.
func (a *App) reset(ctx context.Context) error {
	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	a.scheduler.States().Clear()
	added, err := seed.Apply(ctx, a.store, a.seeds, a.logger.Named("seed"))
	if err != nil {
		return fmt.Errorf("reseed: %w", err)
	}
	a.logger.Warn("registry reset", zap.Int("reseeded", added))
	return nil
}
