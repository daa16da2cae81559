// Package app provides application initialization and wiring.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/adapters/catalog"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/fetch"
	httpAdapter "github.com/SandiRizqi/terestria-sub000/internal/adapters/http"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/metrics"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/pdf"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/storage"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/tilestore"
	tlsAdapter "github.com/SandiRizqi/terestria-sub000/internal/adapters/tls"
	"github.com/SandiRizqi/terestria-sub000/internal/adapters/watcher"
	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/config"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	Storage    output.ObjectStorage
	Stores     *tilestore.Pool
	Downloads  *application.DownloadManager
	Tiles      *application.TileService
	Generator  *application.TileGenerator
	Registry   *application.BasemapRegistry
	Offline    *application.OfflineDownloader
	Jobs       *application.JobManager
	Sync       *application.SyncService
	Health     *application.HealthService
	TLS        *tlsAdapter.Manager
	HTTPServer *httpAdapter.Server
	Watcher    *watcher.Watcher

	background sync.WaitGroup
	stop       context.CancelFunc
	closeOnce  sync.Once
}

// New creates and wires all application components. Nothing is started and
// no port is bound.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("terestria")
		metricsCollector = app.Metrics
	}

	// Initialize PDF source storage
	store, err := storage.New(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Initialize tile stores
	app.Stores, err = tilestore.NewPool(
		cfg.Cache.StorePath(),
		tilestore.WithCapacity(cfg.Cache.MaxOpenStores),
		tilestore.WithLogger(logger),
		tilestore.WithMetrics(metricsCollector),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing tile stores: %w", err)
	}

	// Initialize download manager
	fetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Timeout:   cfg.Download.HTTPTimeout,
		UserAgent: cfg.Download.UserAgent,
	})
	retries := cfg.Download.MaxRetries
	if retries == 0 {
		retries = -1
	}
	app.Downloads = application.NewDownloadManager(
		fetcher,
		application.DownloadManagerConfig{
			MaxConcurrent:  cfg.Download.MaxConcurrent,
			MaxRetries:     retries,
			RetryDelay:     cfg.Download.RetryDelay,
			RateLimitDelay: cfg.Download.RateLimitDelay,
		},
		metricsCollector,
		logger,
	)

	// Initialize PDF tile generator
	app.Generator = application.NewTileGenerator(
		pdf.NewRasterizer(cfg.PDF.PdftoppmPath, "", logger),
		pdf.NewGeoExtractor(),
		app.Stores,
		application.GeneratorConfig{
			DPI:             cfg.PDF.DPI,
			WriteBatchSize:  cfg.PDF.WriteBatchSize,
			ZoomLevelsBelow: cfg.PDF.ZoomLevelsBelow,
			ZoomLevelsAbove: cfg.PDF.ZoomLevelsAbove,
			MaxScaledPixels: cfg.PDF.MaxScaledPixels,
			MaxTiles:        cfg.PDF.MaxTiles,
			ResampleWorkers: cfg.PDF.ResampleWorkers,
		},
		metricsCollector,
		logger,
	)

	// Initialize basemap registry
	app.Registry = application.NewBasemapRegistry(
		catalog.NewYAMLCatalog(cfg.Catalog.Path),
		app.Stores,
		app.Generator,
		app.Storage,
		metricsCollector,
		logger,
	)
	if cfg.PDF.ImportDir != "" {
		app.Registry.UseImportDir(storage.NewLocalStorage(cfg.PDF.ImportDir))
	}

	// Initialize tile service
	app.Tiles = application.NewTileService(
		app.Registry,
		app.Stores,
		app.Downloads,
		application.TileServiceConfig{
			MemoryTiles: cfg.Cache.MemoryTiles,
			MemoryTTL:   cfg.Cache.MemoryTileTTL,
		},
		metricsCollector,
		logger,
	)
	app.Registry.OnChange(app.Tiles.Invalidate)

	// Initialize offline downloads
	app.Offline = application.NewOfflineDownloader(
		app.Stores,
		app.Downloads,
		application.OfflineConfig{
			BatchSize:        cfg.Download.OfflineBatchSize,
			EstimateSamples:  cfg.Download.EstimateSamples,
			AverageTileBytes: cfg.Download.DefaultTileBytes,
		},
		logger,
	)
	app.Jobs = application.NewJobManager(app.Offline, logger)

	// Initialize sync service if storage is configured
	if app.Storage != nil {
		app.Sync = application.NewSyncService(
			app.Registry,
			cfg.Sync.Interval,
			cfg.Sync.TriggerCooldown,
			logger,
		)
	}

	// Initialize health service
	app.Health = application.NewHealthService(app.Registry, app.Downloads, app.Stores)

	// Initialize certificate management if enabled
	app.TLS, err = tlsAdapter.NewManager(tlsConfig(cfg.TLS), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing TLS: %w", err)
	}

	app.HTTPServer = app.newHTTPServer()

	return app, nil
}

func (a *App) newHTTPServer() *httpAdapter.Server {
	svc := httpAdapter.Services{
		Health:    a.Health,
		Tiles:     a.Tiles,
		Basemaps:  a.Registry,
		Jobs:      a.Jobs,
		Estimator: a.Offline,
		Downloads: a.Downloads,
	}
	if a.Sync != nil {
		svc.Sync = a.Sync
	}
	if a.Metrics != nil {
		svc.Metrics = a.Metrics
	}

	return httpAdapter.NewServer(a.Config.Server, svc, a.Config.Metrics.Path, a.tlsServerConfig(), a.Logger)
}

// Load reads the basemap catalog and marks the service ready.
func (a *App) Load(ctx context.Context) error {
	if err := a.Registry.Load(ctx); err != nil {
		return err
	}
	a.Health.MarkReady()
	return nil
}

// Start loads the catalog, starts background components and serves HTTP
// until Shutdown.
func (a *App) Start(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return fmt.Errorf("loading basemaps: %w", err)
	}

	bgCtx, stop := context.WithCancel(ctx)
	a.stop = stop

	// Obtain certificates before serving
	if a.TLS != nil {
		if err := a.TLS.ManageCertificates(bgCtx); err != nil {
			return err
		}
	}

	// Start sync scheduler
	if a.Sync != nil && a.Sync.Interval() > 0 {
		a.Sync.Start(bgCtx)
	}

	// Start file watcher
	if a.Config.PDF.Watch {
		if err := a.startWatcher(bgCtx); err != nil {
			a.Logger.Warn("failed to start file watcher", zap.Error(err))
		}
	}

	// Start periodic eviction
	if a.Config.Cache.EvictAfter > 0 {
		a.background.Add(1)
		go a.evictionLoop(bgCtx)
	}

	return a.HTTPServer.Start()
}

func (a *App) startWatcher(ctx context.Context) error {
	dir := a.Config.PDF.ImportDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating import dir: %w", err)
	}

	w, err := watcher.New(watcher.Config{Paths: []string{dir}}, a.handleFileEvent, a.Logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.Watcher = w

	a.importExisting(ctx, dir)
	return nil
}

// importExisting imports PDFs already in dir that have no basemap yet.
func (a *App) importExisting(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.Logger.Warn("failed to read import dir", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !output.IsPDFKey(e.Name()) {
			continue
		}
		id := application.DeriveBasemapID(e.Name())
		if a.Registry.IsRegistered(id) {
			continue
		}
		if _, err := a.Registry.ImportFile(ctx, id, filepath.Join(dir, e.Name()), application.ImportOptions{}); err != nil {
			a.Logger.Warn("failed to import pdf", zap.String("basemap_id", id), zap.Error(err))
		}
	}
}

// handleFileEvent imports PDFs dropped into the import directory.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	id := application.DeriveBasemapID(event.Path)
	a.Logger.Info("file event",
		zap.String("path", event.Path),
		zap.String("operation", event.Operation.String()),
		zap.String("basemap_id", id))

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		_, err := a.Registry.ImportFile(ctx, id, event.Path, application.ImportOptions{})
		if errors.Is(err, domain.ErrBasemapBusy) {
			a.Logger.Info("import already running, ignoring change", zap.String("basemap_id", id))
			return nil
		}
		return err

	case watcher.OpDelete:
		// Generated tiles outlive their source file.
		a.Logger.Info("pdf source removed, keeping basemap", zap.String("basemap_id", id))
	}

	return nil
}

func (a *App) evictionLoop(ctx context.Context) {
	defer a.background.Done()

	period := a.Config.Cache.EvictionPeriod
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.EvictStale(ctx, a.Config.Cache.EvictAfter); err != nil {
				a.Logger.Warn("periodic eviction failed", zap.Error(err))
			}
		}
	}
}

// EvictStale removes tiles of remote basemaps not accessed within age.
// PDF tiles cannot be downloaded again and are never evicted.
func (a *App) EvictStale(ctx context.Context, age time.Duration) (int64, error) {
	basemaps, err := a.Registry.List(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	var errs []error
	for _, b := range basemaps {
		if !b.IsRemote() {
			continue
		}
		n, err := a.Tiles.EvictOlderThan(ctx, b.ID, age)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	if total > 0 {
		a.Logger.Info("evicted stale tiles", zap.Int64("tiles", total), zap.Duration("older_than", age))
	}
	return total, errors.Join(errs...)
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Shutdown HTTP server
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	a.Close()
	return nil
}

// Close stops background work and releases all resources. Running imports
// are cancelled and their basemaps marked failed.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.stop != nil {
			a.stop()
		}

		// Stop watcher
		if a.Watcher != nil {
			if err := a.Watcher.Stop(); err != nil {
				a.Logger.Warn("failed to stop file watcher", zap.Error(err))
			}
		}

		// Stop sync service
		if a.Sync != nil {
			a.Sync.Stop()
		}

		a.background.Wait()
		a.Jobs.Close()
		a.Registry.Close()
		a.Tiles.Close()
		a.Downloads.Close()

		if err := a.Stores.Close(); err != nil {
			a.Logger.Error("failed to close tile stores", zap.Error(err))
		}
	})
}

func (a *App) tlsServerConfig() *tls.Config {
	if a.TLS == nil {
		return nil
	}
	return a.TLS.TLSConfig()
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:  output.StorageType(cfg.Type),
		Local: storage.LocalConfig{Path: cfg.LocalPath},
		S3: storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		},
	}
}

func tlsConfig(cfg config.TLSConfig) tlsAdapter.Config {
	return tlsAdapter.Config{
		Enabled:  cfg.Enabled,
		Domains:  cfg.Domains,
		Email:    cfg.Email,
		CacheDir: cfg.CacheDir,
		Staging:  cfg.Staging,
		DNS: tlsAdapter.DNSConfig{
			SubscriptionID:    cfg.DNS.SubscriptionID,
			ResourceGroupName: cfg.DNS.ResourceGroupName,
			ClientID:          cfg.DNS.ClientID,
		},
	}
}
