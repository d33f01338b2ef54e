// Package main is the entrypoint for the agripay API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/agripay/internal/agro"
	"github.com/kiranshivaraju/agripay/internal/analysis"
	"github.com/kiranshivaraju/agripay/internal/api"
	"github.com/kiranshivaraju/agripay/internal/api/handler"
	mw "github.com/kiranshivaraju/agripay/internal/api/middleware"
	"github.com/kiranshivaraju/agripay/internal/cache"
	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/config"
	"github.com/kiranshivaraju/agripay/internal/drive"
	"github.com/kiranshivaraju/agripay/internal/farm"
	"github.com/kiranshivaraju/agripay/internal/geocode"
	"github.com/kiranshivaraju/agripay/internal/health"
	"github.com/kiranshivaraju/agripay/internal/imagery"
	"github.com/kiranshivaraju/agripay/internal/objectstore"
	"github.com/kiranshivaraju/agripay/internal/overview"
	"github.com/kiranshivaraju/agripay/internal/poller"
	"github.com/kiranshivaraju/agripay/internal/processing"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/report"
	"github.com/kiranshivaraju/agripay/internal/results"
	"github.com/kiranshivaraju/agripay/internal/sentinel"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/internal/tiler"
	"github.com/kiranshivaraju/agripay/internal/webodm"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	a, err := build(cfg, store.NewPostgresStore(pool), redisCache, slog.Default())
	if err != nil {
		return err
	}
	if a.processing != nil {
		resumed, err := a.processing.Resume(ctx)
		if err != nil {
			a.shutdown()
			return fmt.Errorf("resume processing jobs: %w", err)
		}
		slog.Info("processing jobs resumed", "count", resumed)
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		a.monitor.Run(monitorCtx)
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(a.deps),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopMonitor()
		a.shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	a.shutdown()
	stopMonitor()
	<-monitorDone

	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// app is the wired server: the router dependencies plus the background
// workers that must be stopped on shutdown.
type app struct {
	deps       api.Dependencies
	monitor    *health.Monitor
	analysis   *analysis.Service
	processing *processing.Service
}

// shutdown stops every polling sequence. Panels and jobs in flight are
// abandoned; processing jobs stay in their last recorded state until the
// next start resumes them.
func (a *app) shutdown() {
	if a.analysis != nil {
		a.analysis.CancelAll()
	}
	if a.processing != nil {
		a.processing.Shutdown()
	}
}

// build creates the upstream clients and services and binds them to
// handlers. A feature whose upstream is not configured gets a nil handler,
// which the router answers with FEATURE_DISABLED.
func build(cfg *config.Config, st store.Store, c cache.Cache, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := remote.NewHTTPClient(cfg.HTTP.Timeout)
	pollerOpts := []poller.Option{
		poller.WithRequestTimeout(cfg.HTTP.Timeout),
		poller.WithLogger(logger),
	}

	tileClient := tiler.NewClient(cfg.Tiler.BaseURL, httpClient, cfg.HTTP.HealthCheckTimeout)
	odm := webodm.NewClient(cfg.WebODM.BaseURL, cfg.WebODM.Username, cfg.WebODM.Password,
		httpClient, cfg.HTTP.HealthCheckTimeout)
	driveClient := drive.NewClient(cfg.Drive.BaseURL, cfg.Drive.APIKey, httpClient)
	agroClient := agro.NewClient(cfg.Agro.BaseURL, cfg.Agro.APIKey, httpClient)
	geocoder := geocode.NewClient(cfg.Geocode.BaseURL, httpClient)
	computeClient, err := compute.NewHTTPClient(cfg.Compute.BaseURL, httpClient, cfg.HTTP.HealthCheckTimeout)
	if err != nil {
		return nil, fmt.Errorf("create compute client: %w", err)
	}

	monitor := health.NewMonitor(cfg.HTTP.HealthCheckInterval, logger)
	if tileClient.Configured() {
		monitor.Register("tiler", tileClient.Health)
	}
	if odm.Configured() {
		monitor.Register("webodm", odm.Health)
	}
	if cfg.Compute.BaseURL != "" {
		monitor.Register("compute", computeClient.Health)
	}

	var registrar farm.PolygonRegistrar
	if agroClient.Configured() {
		registrar = agroClient
	}
	farmSvc := farm.NewService(st, registrar, logger)
	limits := handler.UploadLimits{
		LayerBytes: cfg.Upload.MaxLayerBytes,
		ImageBytes: cfg.Upload.MaxImageBytes,
		BatchBytes: cfg.Upload.MaxBatchBytes,
	}

	objects := objectstore.NewLocalStorage(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
	imagerySvc := imagery.NewService(st, objects, tileClient, driveClient, logger)
	resultsSvc := results.NewService(st, logger)
	reportSvc := report.NewService(resultsSvc, logger)

	a := &app{monitor: monitor}
	a.deps = api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Ownership: mw.NewOwnership(st),

		HealthHandler: handler.NewHealthHandler(st, c, monitor),

		CreateFarm:      handler.NewCreateFarmHandler(farmSvc),
		ListFarms:       handler.NewListFarmsHandler(farmSvc),
		GetFarm:         handler.NewGetFarmHandler(),
		RegisterPolygon: handler.NewRegisterPolygonHandler(farmSvc),

		ListFlights:   handler.NewListFlightsHandler(imagerySvc),
		UploadLayer:   handler.NewUploadLayerHandler(imagerySvc, limits),
		ImportDrive:   handler.NewImportDriveHandler(imagerySvc),
		DeleteLayer:   handler.NewDeleteLayerHandler(imagerySvc),
		ResultsExport: handler.NewResultsExportHandler(reportSvc),
		CreateKey:     handler.NewCreateKeyHandler(st),
	}

	if tileClient.Configured() {
		a.deps.Tiler = handler.NewTilerHandler(tileClient)
	}
	if cfg.Geocode.BaseURL != "" {
		a.deps.Geocode = handler.NewGeocodeHandler(geocoder)
	}

	var (
		agroSrc       overview.AgroSource
		vegetationSrc overview.VegetationSource
	)
	if agroClient.Configured() {
		agroSrc = agroClient
	}
	if cfg.SentinelEnabled() {
		vegetationSrc = sentinel.NewClient(cfg.Sentinel.BaseURL, cfg.Sentinel.ClientID,
			cfg.Sentinel.ClientSecret, httpClient)
	}
	if agroSrc != nil || vegetationSrc != nil {
		a.deps.Overview = handler.NewOverviewHandler(overview.NewService(agroSrc, vegetationSrc, logger))
	}

	if odm.Configured() {
		a.processing = processing.NewService(st, odm, objects,
			poller.New(cfg.Poll.ProcessingInterval, pollerOpts...), logger)
		a.deps.StartProcessing = handler.NewStartProcessingHandler(a.processing, limits)
		a.deps.ListProcessingJobs = handler.NewListProcessingJobsHandler(a.processing)
	}

	if cfg.Compute.BaseURL != "" {
		a.analysis = analysis.NewService(computeClient, resultsSvc, imagerySvc, c,
			poller.New(cfg.Poll.Interval, pollerOpts...),
			poller.New(cfg.Poll.UploadInterval, pollerOpts...),
			analysis.Config{AssetTTL: cfg.Redis.AssetTTL},
			logger)

		a.deps.GetFarmPlantCount = handler.NewGetFarmPlantCountHandler(a.analysis)
		a.deps.UploadPlantCount = handler.NewUploadPlantCountHandler(a.analysis, limits)
		a.deps.CancelFarmPlantCount = handler.NewCancelFarmPlantCountHandler(a.analysis)
		a.deps.GetFlightPlantCount = handler.NewGetFlightPlantCountHandler(a.analysis)
		a.deps.AnalyzeFlight = handler.NewAnalyzeFlightHandler(a.analysis)
		a.deps.CancelFlightPlantCount = handler.NewCancelFlightPlantCountHandler(a.analysis)
		a.deps.JobSnapshot = handler.NewJobSnapshotHandler(a.analysis)
		a.deps.JobImage = handler.NewJobImageHandler(a.analysis)
		a.deps.VerifyMilestone = handler.NewVerifyMilestoneHandler(computeClient)
	}

	logger.Info("features wired",
		"tiler", tileClient.Configured(),
		"webodm", odm.Configured(),
		"compute", cfg.Compute.BaseURL != "",
		"agro", agroClient.Configured(),
		"sentinel", cfg.SentinelEnabled(),
		"drive", driveClient.Configured())
	return a, nil
}
