// Package server builds the application's dependency graph and runs it,
// either as a one-shot batch or as the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/imagefetch/internal/api"
	"github.com/JakeFAU/imagefetch/internal/clock/system"
	"github.com/JakeFAU/imagefetch/internal/config"
	"github.com/JakeFAU/imagefetch/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/imagefetch/internal/fetcher/colly"
	"github.com/JakeFAU/imagefetch/internal/hash/sha256"
	"github.com/JakeFAU/imagefetch/internal/id/uuid"
	"github.com/JakeFAU/imagefetch/internal/ingest"
	"github.com/JakeFAU/imagefetch/internal/metrics"
	"github.com/JakeFAU/imagefetch/internal/policy"
	"github.com/JakeFAU/imagefetch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/imagefetch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/imagefetch/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/imagefetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/imagefetch/internal/storage/local"
	memoryStorage "github.com/JakeFAU/imagefetch/internal/storage/memory"
	"github.com/JakeFAU/imagefetch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Options carries client overrides, mainly emulator endpoints in tests.
type Options struct {
	GCSClientOptions    []option.ClientOption
	PubSubClientOptions []option.ClientOption
}

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	store           ingest.Store
	publisher       ingest.Publisher
	runner          *dispatcher.Runner
	reports         *memoryStorage.ReportStore
	apiServer       *api.Server
	gcsClient       *storage.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app := &App{
		cfg:     cfg,
		logger:  logger,
		reports: memoryStorage.NewReportStore(0),
	}
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	var err error
	if app.store, err = app.setupStore(ctx, opts); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if app.publisher, err = app.setupPublisher(ctx, opts); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	fetcher := app.setupFetcher()
	clock := system.New()
	pipeline := worker.New(
		fetcher,
		app.store,
		sha256.New(),
		app.publisher,
		clock,
		worker.Config{Topic: cfg.Publish.Topic},
		logger,
	)
	app.runner = dispatcher.New(
		pipeline,
		uuid.New(),
		clock,
		dispatcher.Config{Concurrency: cfg.Fetcher.Concurrency},
		logger,
	)
	app.apiServer = api.NewServer(app.runner, app.reports, api.Config{
		BatchDeadline:  cfg.Batch.Deadline,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, logger)

	logger.Info("application built",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("user_agent", cfg.Fetcher.UserAgent),
		zap.Duration("fetch_timeout", cfg.Fetcher.Timeout),
		zap.Int("concurrency", config.ClampConcurrency(cfg.Fetcher.Concurrency)),
		zap.Bool("publish", app.publisher != nil),
	)
	return app, nil
}

// setupFetcher wraps the colly fetcher with the host blocklist and the
// per-host limiter when either is configured.
func (a *App) setupFetcher() ingest.Fetcher {
	base := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetcher.UserAgent,
		Timeout:       a.cfg.Fetcher.Timeout,
		MaxBodyBytes:  a.cfg.Fetcher.MaxBodyBytes,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
	})
	blocklist := policy.NewBlocklist(a.cfg.Fetcher.BlockedHosts)
	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Fetcher.HostRPS, Burst: a.cfg.Fetcher.HostBurst})
	if blocklist == nil && !limiter.Enabled() {
		return base
	}
	var hostLimiter policy.HostLimiter
	if limiter.Enabled() {
		hostLimiter = limiter
	}
	a.logger.Info("host policy enabled",
		zap.Int("blocked_patterns", len(a.cfg.Fetcher.BlockedHosts)),
		zap.Float64("host_rps", a.cfg.Fetcher.HostRPS),
	)
	return policy.Wrap(base, blocklist, hostLimiter, a.logger)
}

func (a *App) setupStore(ctx context.Context, opts Options) (ingest.Store, error) {
	switch a.cfg.Store.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Store.GCSBucket))
		client, err := storage.NewClient(ctx, opts.GCSClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Store.GCSBucket,
			Prefix: a.cfg.Store.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend; nothing is written to disk")
		return memoryStorage.NewStore(), nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Store.Dir})
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("dir", store.Dir()))
		return store, nil
	}
}

func (a *App) setupPublisher(ctx context.Context, opts Options) (ingest.Publisher, error) {
	if a.cfg.Publish.Topic == "" {
		return nil, nil
	}
	if a.cfg.Store.Backend == config.BackendMemory {
		a.logger.Info("dry run: recording notifications in memory", zap.String("topic", a.cfg.Publish.Topic))
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Publish.ProjectID, opts.PubSubClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Publish.ProjectID),
		zap.String("topic", a.cfg.Publish.Topic),
	)
	return a.pubsubPublisher, nil
}

// RunBatch runs urls under the configured batch deadline and keeps the report.
func (a *App) RunBatch(ctx context.Context, urls []string) ingest.Report {
	if a.cfg.Batch.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Batch.Deadline)
		defer cancel()
	}
	report := a.runner.Run(ctx, urls)
	if err := a.reports.SaveReport(ctx, report); err != nil {
		a.logger.Warn("save report failed", zap.String("batch_id", report.BatchID), zap.Error(err))
	}
	return report
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Store exposes the destination namespace.
func (a *App) Store() ingest.Store {
	return a.store
}

// Serve runs the HTTP API until ctx is canceled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
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
			errCh <- err
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

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases cloud clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.pubsubPublisher = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
}
