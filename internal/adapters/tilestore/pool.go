package tilestore

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// DefaultCapacity is the number of basemap databases kept open at once.
const DefaultCapacity = 5

const touchTimeout = 5 * time.Second

// Pool implements output.TileStoreProvider with a bounded set of open
// handles. The least recently used handle is closed when a new one is needed.
type Pool struct {
	dir      string
	capacity int
	logger   *zap.Logger
	metrics  output.MetricsCollector
	now      func() time.Time

	mu      sync.Mutex
	handles map[string]*list.Element // value is *handle
	lru     *list.List               // front is most recently used
	closed  bool

	touches sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithCapacity sets the maximum number of open handles.
func WithCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m output.MetricsCollector) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a pool storing databases under dir.
func NewPool(dir string, opts ...Option) (*Pool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StoreError{Operation: "init", Err: err}
	}

	p := &Pool{
		dir:      dir,
		capacity: DefaultCapacity,
		logger:   zap.NewNop(),
		metrics:  &output.NoOpMetrics{},
		now:      time.Now,
		handles:  make(map[string]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "tilestore"))
	return p, nil
}

// FileName returns the database file name for a basemap.
func FileName(basemapID string) string {
	return "tiles_" + basemapID + ".db"
}

func (p *Pool) path(basemapID string) string {
	return filepath.Join(p.dir, FileName(basemapID))
}

// Store implements output.TileStoreProvider.
func (p *Pool) Store(basemapID string) (output.TileStore, error) {
	if err := domain.ValidateBasemapID(basemapID); err != nil {
		return nil, err
	}
	return &basemapStore{pool: p, basemapID: basemapID}, nil
}

// OpenCount returns the number of open handles.
func (p *Pool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// IsOpen reports whether basemapID currently has an open handle.
func (p *Pool) IsOpen(basemapID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handles[basemapID]
	return ok
}

// acquire returns the handle for basemapID with its read lock held, opening
// it and evicting the least recently used handle when the pool is full.
// Handles still in the map are never being closed, so RLock under p.mu
// cannot wait on a close.
func (p *Pool) acquire(ctx context.Context, basemapID string) (*handle, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrStoreClosed
	}

	if el, ok := p.handles[basemapID]; ok {
		p.lru.MoveToFront(el)
		h := el.Value.(*handle)
		h.mu.RLock()
		p.mu.Unlock()
		return h, nil
	}

	h, err := openHandle(ctx, basemapID, p.path(basemapID))
	if err != nil {
		p.mu.Unlock()
		return nil, &domain.StoreError{Operation: "open", BasemapID: basemapID, Err: err}
	}
	h.mu.RLock()
	p.handles[basemapID] = p.lru.PushFront(h)

	var victim *handle
	if p.lru.Len() > p.capacity {
		back := p.lru.Back()
		victim = back.Value.(*handle)
		p.lru.Remove(back)
		delete(p.handles, victim.basemapID)
	}
	open := len(p.handles)
	p.mu.Unlock()

	p.metrics.SetOpenStores(open)
	if victim != nil {
		p.metrics.IncStoreEvictions()
		p.logger.Debug("closing least recently used tile store",
			zap.String("basemap_id", victim.basemapID))
		// Waits for operations still running on the victim.
		if err := victim.close(); err != nil {
			p.logger.Warn("closing tile store", zap.String("basemap_id", victim.basemapID), zap.Error(err))
		}
	}
	return h, nil
}

// withHandle runs fn against an open handle of basemapID.
func (p *Pool) withHandle(ctx context.Context, basemapID, op string, fn func(h *handle) error) error {
	start := time.Now()
	err := p.run(ctx, basemapID, fn)
	p.metrics.IncStoreOperations(op, err == nil)
	p.metrics.ObserveStoreDuration(op, time.Since(start))

	if err == nil {
		return nil
	}
	var serr *domain.StoreError
	if errors.As(err, &serr) {
		return err
	}
	return &domain.StoreError{Operation: op, BasemapID: basemapID, Err: err}
}

func (p *Pool) run(ctx context.Context, basemapID string, fn func(h *handle) error) error {
	h, err := p.acquire(ctx, basemapID)
	if err != nil {
		return err
	}
	defer h.mu.RUnlock()
	return fn(h)
}

// touchAsync bumps last_accessed_at in the background. The update is
// dropped when the handle is being closed.
func (p *Pool) touchAsync(h *handle, key string) {
	now := p.now()
	p.touches.Add(1)
	go func() {
		defer p.touches.Done()

		if !h.mu.TryRLock() {
			return
		}
		defer h.mu.RUnlock()
		if h.closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := h.touch(ctx, key, now); err != nil {
			p.logger.Debug("access time update dropped",
				zap.String("basemap_id", h.basemapID), zap.String("tile", key), zap.Error(err))
		}
	}()
}

// Delete implements output.TileStoreProvider.
func (p *Pool) Delete(_ context.Context, basemapID string) error {
	if err := domain.ValidateBasemapID(basemapID); err != nil {
		return err
	}

	// Held across close and removal so the basemap cannot be reopened in between.
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.handles[basemapID]; ok {
		p.lru.Remove(el)
		delete(p.handles, basemapID)
		if err := el.Value.(*handle).close(); err != nil {
			p.logger.Warn("closing tile store", zap.String("basemap_id", basemapID), zap.Error(err))
		}
		p.metrics.SetOpenStores(len(p.handles))
	}

	path := p.path(basemapID)
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &domain.StoreError{Operation: "delete", BasemapID: basemapID, Err: err}
		}
	}

	p.logger.Info("tile store deleted", zap.String("basemap_id", basemapID))
	return nil
}

// Close implements output.TileStoreProvider.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	handles := make([]*handle, 0, len(p.handles))
	for el := p.lru.Front(); el != nil; el = el.Next() {
		handles = append(handles, el.Value.(*handle))
	}
	p.handles = make(map[string]*list.Element)
	p.lru.Init()
	p.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", h.basemapID, err))
		}
	}
	p.touches.Wait()
	p.metrics.SetOpenStores(0)
	return errors.Join(errs...)
}

// basemapStore implements output.TileStore for one basemap by routing every
// call through the pool.
type basemapStore struct {
	pool      *Pool
	basemapID string
}

func (s *basemapStore) Put(ctx context.Context, z, x, y int, data []byte) error {
	now := s.pool.now()
	rec := domain.TileRecord{
		Key:            domain.NewTileKey(s.basemapID, z, x, y),
		Data:           data,
		CachedAt:       now,
		LastAccessedAt: now,
	}
	return s.pool.withHandle(ctx, s.basemapID, "put", func(h *handle) error {
		return h.put(ctx, rec)
	})
}

func (s *basemapStore) Get(ctx context.Context, z, x, y int) ([]byte, bool, error) {
	var (
		rec   domain.TileRecord
		found bool
	)
	key := domain.StoreKey(z, x, y)
	err := s.pool.withHandle(ctx, s.basemapID, "get", func(h *handle) error {
		var err error
		rec, found, err = h.get(ctx, key)
		if found {
			s.pool.touchAsync(h, key)
		}
		return err
	})
	return rec.Data, found, err
}

func (s *basemapStore) Has(ctx context.Context, z, x, y int) (bool, error) {
	var found bool
	err := s.pool.withHandle(ctx, s.basemapID, "has", func(h *handle) error {
		var err error
		found, err = h.has(ctx, domain.StoreKey(z, x, y))
		return err
	})
	return found, err
}

func (s *basemapStore) Info(ctx context.Context) (domain.CacheInfo, error) {
	var info domain.CacheInfo
	err := s.pool.withHandle(ctx, s.basemapID, "info", func(h *handle) error {
		var err error
		info, err = h.info(ctx)
		return err
	})
	return info, err
}

func (s *basemapStore) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.withHandle(ctx, s.basemapID, "clear", func(h *handle) error {
		var err error
		n, err = h.clear(ctx)
		return err
	})
	return n, err
}

func (s *basemapStore) EvictOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	var n int64
	cutoff := s.pool.now().Add(-age)
	err := s.pool.withHandle(ctx, s.basemapID, "evict", func(h *handle) error {
		var err error
		n, err = h.evictOlderThan(ctx, cutoff)
		return err
	})
	return n, err
}

var _ output.TileStoreProvider = (*Pool)(nil)
