// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// PDFGenerator turns a PDF into tiles.
type PDFGenerator interface {
	Generate(ctx context.Context, req GenerateRequest, progress domain.ProgressFunc) (*GenerateResult, error)
}

// RegisterRequest defines a remote basemap.
type RegisterRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	URLTemplate string            `json:"url_template"`
	Bounds      *domain.GeoBounds `json:"bounds,omitempty"`
}

// ImportOptions override what an import would otherwise derive from the PDF.
type ImportOptions struct {
	Name    string            `json:"name,omitempty"`
	Bounds  *domain.GeoBounds `json:"bounds,omitempty"`
	MinZoom *int              `json:"min_zoom,omitempty"`
	MaxZoom *int              `json:"max_zoom,omitempty"`

	// Progress additionally receives every progress report of the import.
	Progress domain.ProgressFunc `json:"-"`
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Skipped int
	Failed  int
}

// BasemapRegistry manages basemap definitions and their PDF imports.
type BasemapRegistry struct {
	mu       sync.RWMutex
	basemaps map[string]*domain.Basemap

	catalog   output.BasemapCatalog
	stores    output.TileStoreProvider
	generator PDFGenerator
	storage   output.ObjectStorage
	imports   output.ObjectStorage // local import directory, may be nil
	metrics   output.MetricsCollector
	logger    *zap.Logger
	now       func() time.Time

	listeners []func(basemapID string)

	// persistMu orders catalog writes so the newest snapshot lands last.
	persistMu sync.Mutex

	// Imports outlive the request that started them.
	baseCtx context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewBasemapRegistry creates a new basemap registry. storage may be nil when
// no object storage is configured.
func NewBasemapRegistry(
	catalog output.BasemapCatalog,
	stores output.TileStoreProvider,
	generator PDFGenerator,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *zap.Logger,
) *BasemapRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &BasemapRegistry{
		basemaps:  make(map[string]*domain.Basemap),
		catalog:   catalog,
		stores:    stores,
		generator: generator,
		storage:   storage,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "registry")),
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// OnChange registers fn to be called when a basemap's tiles are replaced or removed.
func (r *BasemapRegistry) OnChange(fn func(basemapID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Load restores the catalog. Imports that were running when the process
// stopped are marked failed.
func (r *BasemapRegistry) Load(ctx context.Context) error {
	basemaps, err := r.catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	r.mu.Lock()
	interrupted := 0
	for i := range basemaps {
		b := basemaps[i]
		if b.Status == domain.StatusProcessing || b.Status == domain.StatusPending {
			b.Status = domain.StatusFailed
			b.Progress = domain.ProgressFailed
			b.Message = "import interrupted"
			b.UpdatedAt = r.now()
			interrupted++
		}
		r.basemaps[b.ID] = &b
	}
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("catalog loaded", zap.Int("basemaps", len(basemaps)), zap.Int("interrupted", interrupted))
	if interrupted > 0 {
		return r.persist(ctx)
	}
	return nil
}

// Register adds a remote basemap.
func (r *BasemapRegistry) Register(ctx context.Context, req RegisterRequest) (domain.Basemap, error) {
	if err := domain.ValidateBasemapID(req.ID); err != nil {
		return domain.Basemap{}, err
	}
	if err := domain.ValidateURLTemplate(req.URLTemplate); err != nil {
		return domain.Basemap{}, err
	}
	if req.Bounds != nil {
		if err := req.Bounds.Validate(); err != nil {
			return domain.Basemap{}, err
		}
	}

	now := r.now()
	b := &domain.Basemap{
		ID:          req.ID,
		Name:        req.Name,
		Kind:        domain.BasemapRemote,
		URLTemplate: req.URLTemplate,
		Bounds:      req.Bounds,
		Status:      domain.StatusReady,
		Progress:    domain.ProgressDone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if b.Name == "" {
		b.Name = req.ID
	}

	r.mu.Lock()
	if _, ok := r.basemaps[req.ID]; ok {
		r.mu.Unlock()
		return domain.Basemap{}, fmt.Errorf("%q: %w", req.ID, domain.ErrBasemapExists)
	}
	r.basemaps[req.ID] = b
	snapshot := *b
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("basemap registered", zap.String("basemap_id", req.ID), zap.String("url_template", req.URLTemplate))
	return snapshot, r.persist(ctx)
}

// Get returns a basemap by ID.
func (r *BasemapRegistry) Get(_ context.Context, id string) (domain.Basemap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.basemaps[id]
	if !ok {
		return domain.Basemap{}, fmt.Errorf("%q: %w", id, domain.ErrBasemapNotFound)
	}
	return *b, nil
}

// List returns all basemaps ordered by ID.
func (r *BasemapRegistry) List(_ context.Context) ([]domain.Basemap, error) {
	return r.snapshot(), nil
}

func (r *BasemapRegistry) snapshot() []domain.Basemap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.Basemap, 0, len(r.basemaps))
	for _, b := range r.basemaps {
		list = append(list, *b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Delete removes a basemap and its tile store.
func (r *BasemapRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	b, ok := r.basemaps[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%q: %w", id, domain.ErrBasemapNotFound)
	}
	if b.Status == domain.StatusProcessing {
		r.mu.Unlock()
		return fmt.Errorf("%q: %w", id, domain.ErrBasemapBusy)
	}
	delete(r.basemaps, id)
	r.mu.Unlock()

	if err := r.stores.Delete(ctx, id); err != nil {
		r.logger.Error("failed to delete tile store", zap.String("basemap_id", id), zap.Error(err))
		return err
	}
	r.notify(id)
	r.updateMetrics()
	r.logger.Info("basemap deleted", zap.String("basemap_id", id))
	return r.persist(ctx)
}

// ImportPDF starts generating tiles for id from pdf in the background and
// returns the basemap in its processing state. Re-importing an existing PDF
// basemap replaces its tiles.
func (r *BasemapRegistry) ImportPDF(ctx context.Context, id, source string, pdf []byte, opts ImportOptions) (domain.Basemap, error) {
	if err := domain.ValidateBasemapID(id); err != nil {
		return domain.Basemap{}, err
	}
	if len(pdf) == 0 {
		return domain.Basemap{}, &domain.ValidationError{Field: "source", Value: source, Message: "pdf is empty"}
	}

	now := r.now()
	r.mu.Lock()
	b, exists := r.basemaps[id]
	switch {
	case exists && b.IsRemote():
		r.mu.Unlock()
		return domain.Basemap{}, fmt.Errorf("%q is a remote basemap: %w", id, domain.ErrBasemapExists)
	case exists && b.Status == domain.StatusProcessing:
		r.mu.Unlock()
		return domain.Basemap{}, fmt.Errorf("%q: %w", id, domain.ErrBasemapBusy)
	case !exists:
		b = &domain.Basemap{ID: id, Kind: domain.BasemapPDF, CreatedAt: now}
		r.basemaps[id] = b
	}
	b.Name = opts.Name
	if b.Name == "" {
		b.Name = id
	}
	b.Source = source
	b.Status = domain.StatusProcessing
	b.Progress = 0
	b.Message = "Queued"
	b.UpdatedAt = now
	snapshot := *b
	r.mu.Unlock()

	r.updateMetrics()
	if err := r.persist(ctx); err != nil {
		return domain.Basemap{}, err
	}

	r.logger.Info("pdf import started", zap.String("basemap_id", id), zap.String("source", source), zap.Int("bytes", len(pdf)))
	r.running.Add(1)
	go r.runImport(id, pdf, opts, exists)
	return snapshot, nil
}

func (r *BasemapRegistry) runImport(id string, pdf []byte, opts ImportOptions, replace bool) {
	defer r.running.Done()
	ctx := r.baseCtx

	if replace {
		if err := r.clearStore(ctx, id); err != nil {
			r.finishImport(ctx, id, nil, err)
			return
		}
	}

	progress := func(fraction float64, message string) {
		r.mu.Lock()
		if b, ok := r.basemaps[id]; ok {
			b.Progress = fraction
			b.Message = message
			b.UpdatedAt = r.now()
		}
		r.mu.Unlock()
		opts.Progress.Report(fraction, message)
	}

	res, err := r.generator.Generate(ctx, GenerateRequest{
		BasemapID: id,
		PDF:       pdf,
		Bounds:    opts.Bounds,
		MinZoom:   opts.MinZoom,
		MaxZoom:   opts.MaxZoom,
	}, progress)
	if err != nil {
		// A partial pyramid is not a usable basemap.
		if cerr := r.clearStore(context.WithoutCancel(ctx), id); cerr != nil {
			r.logger.Warn("failed to clear partial tiles", zap.String("basemap_id", id), zap.Error(cerr))
		}
	}
	r.finishImport(ctx, id, res, err)
}

func (r *BasemapRegistry) finishImport(ctx context.Context, id string, res *GenerateResult, err error) {
	r.mu.Lock()
	if b, ok := r.basemaps[id]; ok {
		b.UpdatedAt = r.now()
		if err != nil {
			b.Status = domain.StatusFailed
			b.Progress = domain.ProgressFailed
			b.Message = err.Error()
		} else {
			bounds, plan := res.Bounds, res.Plan
			b.Status = domain.StatusReady
			b.Progress = domain.ProgressDone
			b.Bounds = &bounds
			b.Zooms = &plan
			b.TileCount = res.TilesWritten
			b.Message = fmt.Sprintf("%d tiles, zoom %d-%d", res.TilesWritten, plan.MinZoom, plan.MaxZoom)
		}
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.IncImports("failed")
		r.logger.Error("pdf import failed", zap.String("basemap_id", id), zap.Error(err))
	} else {
		r.metrics.IncImports("succeeded")
		r.logger.Info("pdf import finished", zap.String("basemap_id", id), zap.Int64("tiles", res.TilesWritten))
	}
	r.notify(id)
	r.updateMetrics()
	if perr := r.persist(context.WithoutCancel(ctx)); perr != nil {
		r.logger.Error("failed to persist catalog", zap.Error(perr))
	}
}

func (r *BasemapRegistry) clearStore(ctx context.Context, id string) error {
	store, err := r.stores.Store(id)
	if err != nil {
		return err
	}
	_, err = store.Clear(ctx)
	r.notify(id)
	return err
}

// ImportFile imports a PDF from the local filesystem.
func (r *BasemapRegistry) ImportFile(ctx context.Context, id, path string, opts ImportOptions) (domain.Basemap, error) {
	pdf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Basemap{}, &domain.ValidationError{Field: "source", Value: path, Message: "file does not exist"}
		}
		return domain.Basemap{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return r.ImportPDF(ctx, id, path, pdf, opts)
}

// UseImportDir lets ImportSource resolve keys inside the local import
// directory. It must be called before the registry serves requests.
func (r *BasemapRegistry) UseImportDir(src output.ObjectStorage) {
	r.imports = src
}

// ImportObject imports a PDF from object storage.
func (r *BasemapRegistry) ImportObject(ctx context.Context, id, key string, opts ImportOptions) (domain.Basemap, error) {
	if r.storage == nil {
		return domain.Basemap{}, fmt.Errorf("no object storage configured: %w", domain.ErrUnavailable)
	}
	return r.importFrom(ctx, r.storage, id, key, opts)
}

// ImportSource imports a PDF named by an untrusted client. source is a key
// looked up in object storage and then in the import directory. Absolute
// paths and keys leaving those roots are rejected.
func (r *BasemapRegistry) ImportSource(ctx context.Context, id, source string, opts ImportOptions) (domain.Basemap, error) {
	key, err := domain.CleanSourceKey(source)
	if err != nil {
		return domain.Basemap{}, err
	}
	for _, src := range []output.ObjectStorage{r.storage, r.imports} {
		if src == nil {
			continue
		}
		ok, err := src.Exists(ctx, key)
		if err != nil {
			return domain.Basemap{}, fmt.Errorf("checking %s: %w", key, err)
		}
		if ok {
			return r.importFrom(ctx, src, id, key, opts)
		}
	}
	return domain.Basemap{}, &domain.ValidationError{Field: "source", Value: source, Message: "source does not exist"}
}

func (r *BasemapRegistry) importFrom(ctx context.Context, src output.ObjectStorage, id, key string, opts ImportOptions) (domain.Basemap, error) {
	rc, err := src.GetReader(ctx, key)
	if err != nil {
		return domain.Basemap{}, fmt.Errorf("opening %s: %w", key, err)
	}
	defer rc.Close()

	pdf, err := io.ReadAll(rc)
	if err != nil {
		return domain.Basemap{}, fmt.Errorf("reading %s: %w", key, err)
	}
	return r.ImportPDF(ctx, id, key, pdf, opts)
}

// Import imports source, which is an object storage key when storage is
// configured and the object exists, and a local path otherwise. Callers
// must trust source; client requests go through ImportSource.
func (r *BasemapRegistry) Import(ctx context.Context, id, source string, opts ImportOptions) (domain.Basemap, error) {
	if r.storage != nil {
		if ok, err := r.storage.Exists(ctx, source); err == nil && ok {
			return r.ImportObject(ctx, id, source, opts)
		}
	}
	return r.ImportFile(ctx, id, source, opts)
}

// Sync imports PDFs from object storage that are not registered yet. The
// basemap ID is the file name without extension.
func (r *BasemapRegistry) Sync(ctx context.Context) (SyncStats, error) {
	if r.storage == nil {
		return SyncStats{}, nil
	}
	r.logger.Info("syncing pdf sources from storage")

	objects, err := r.storage.List(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	stats := SyncStats{}
	for _, obj := range objects {
		if !output.IsPDFKey(obj.Key) {
			continue
		}
		id := DeriveBasemapID(obj.Key)
		if r.IsRegistered(id) {
			stats.Skipped++
			continue
		}
		if _, err := r.ImportObject(ctx, id, obj.Key, ImportOptions{}); err != nil {
			r.logger.Error("failed to import pdf", zap.String("key", obj.Key), zap.Error(err))
			stats.Failed++
			continue
		}
		stats.Added++
	}

	r.logger.Info("sync completed", zap.Int("added", stats.Added), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, nil
}

// IsRegistered returns true if a basemap with the given ID exists.
func (r *BasemapRegistry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.basemaps[id]
	return ok
}

// Counts returns the number of registered and ready basemaps.
func (r *BasemapRegistry) Counts() (total, ready int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.basemaps {
		if b.IsReady() {
			ready++
		}
	}
	return len(r.basemaps), ready
}

// Wait blocks until all running imports have finished.
func (r *BasemapRegistry) Wait() {
	r.running.Wait()
}

// Close cancels running imports and waits for them.
func (r *BasemapRegistry) Close() {
	r.cancel()
	r.running.Wait()
}

func (r *BasemapRegistry) notify(id string) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}

func (r *BasemapRegistry) persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if err := r.catalog.Save(ctx, r.snapshot()); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	return nil
}

// updateMetrics updates the metrics collector with current basemap counts.
func (r *BasemapRegistry) updateMetrics() {
	total, ready := r.Counts()
	r.metrics.SetBasemaps(total, ready)
}

// DeriveBasemapID extracts a basemap ID from a file path or object key.
func DeriveBasemapID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
