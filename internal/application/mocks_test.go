package application

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// fakeFetcher implements output.TileFetcher with a scripted response and
// instrumentation of calls and concurrency.
type fakeFetcher struct {
	respond func(url string, call int) output.FetchResult
	delay   time.Duration
	gate    chan struct{} // when set, every fetch waits for a value or close
	started chan string   // when set, receives each URL as its fetch starts

	mu        sync.Mutex
	calls     map[string]int
	order     []string
	active    int
	maxActive int
	total     atomic.Int64
}

func newFakeFetcher(respond func(url string, call int) output.FetchResult) *fakeFetcher {
	if respond == nil {
		respond = func(url string, _ int) output.FetchResult {
			return output.Ok([]byte("tile:" + url))
		}
	}
	return &fakeFetcher{respond: respond, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) output.FetchResult {
	f.mu.Lock()
	f.calls[url]++
	call := f.calls[url]
	f.order = append(f.order, url)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	f.total.Add(1)

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- url
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return output.Fatal(0, ctx.Err())
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.respond(url, call)
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeFetcher) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// memStoreProvider implements output.TileStoreProvider in memory.
type memStoreProvider struct {
	mu      sync.Mutex
	stores  map[string]*memStore
	putErr  error
	deleted []string
}

func newMemStoreProvider() *memStoreProvider {
	return &memStoreProvider{stores: make(map[string]*memStore)}
}

func (p *memStoreProvider) Store(basemapID string) (output.TileStore, error) {
	return p.store(basemapID), nil
}

func (p *memStoreProvider) store(basemapID string) *memStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[basemapID]
	if !ok {
		s = &memStore{id: basemapID, tiles: make(map[string][]byte), putErr: p.putErr}
		p.stores[basemapID] = s
	}
	return s
}

func (p *memStoreProvider) Delete(_ context.Context, basemapID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stores, basemapID)
	p.deleted = append(p.deleted, basemapID)
	return nil
}

func (p *memStoreProvider) Close() error { return nil }

type memStore struct {
	id     string
	mu     sync.Mutex
	tiles  map[string][]byte
	putErr error
	puts   int
}

func (s *memStore) Put(_ context.Context, z, x, y int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.tiles[domain.StoreKey(z, x, y)] = append([]byte(nil), data...)
	s.puts++
	return nil
}

func (s *memStore) Get(_ context.Context, z, x, y int) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.tiles[domain.StoreKey(z, x, y)]
	return d, ok, nil
}

func (s *memStore) Has(_ context.Context, z, x, y int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tiles[domain.StoreKey(z, x, y)]
	return ok, nil
}

func (s *memStore) Info(_ context.Context) (domain.CacheInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := domain.CacheInfo{BasemapID: s.id, TileCount: int64(len(s.tiles))}
	for _, d := range s.tiles {
		info.SizeInBytes += int64(len(d))
	}
	return info, nil
}

func (s *memStore) Clear(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.tiles))
	s.tiles = make(map[string][]byte)
	return n, nil
}

func (s *memStore) EvictOlderThan(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.tiles))
	for k := range s.tiles {
		keys = append(keys, k)
	}
	return keys
}

// fakeRasterizer implements output.PDFRasterizer.
type fakeRasterizer struct {
	img image.Image
	err error

	mu      sync.Mutex
	lastDPI int
}

func (r *fakeRasterizer) Rasterize(_ context.Context, _ []byte, dpi int) (image.Image, error) {
	r.mu.Lock()
	r.lastDPI = dpi
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.img, nil
}

// fakeGeoref implements output.GeoreferenceExtractor.
type fakeGeoref struct {
	bounds domain.GeoBounds
	err    error
	calls  atomic.Int64
}

func (g *fakeGeoref) Extract(_ context.Context, _ []byte) (domain.GeoBounds, error) {
	g.calls.Add(1)
	if g.err != nil {
		return domain.GeoBounds{}, g.err
	}
	return g.bounds, nil
}

// memCatalog implements output.BasemapCatalog.
type memCatalog struct {
	mu       sync.Mutex
	basemaps []domain.Basemap
	saves    int
	saveErr  error
}

func (c *memCatalog) Load(_ context.Context) ([]domain.Basemap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Basemap(nil), c.basemaps...), nil
}

func (c *memCatalog) Save(_ context.Context, basemaps []domain.Basemap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.basemaps = append([]domain.Basemap(nil), basemaps...)
	c.saves++
	return nil
}

func (c *memCatalog) Saved() []domain.Basemap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Basemap(nil), c.basemaps...)
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	objects     map[string][]byte
	downloadErr error
	listErr     error
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var objs []output.StorageObject
	for k, v := range m.objects {
		objs = append(objs, output.StorageObject{Key: k, Size: int64(len(v))})
	}
	return objs, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	data, ok := m.objects[key]
	if !ok {
		return errors.New("object not found")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o600)
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

// failingStores implements output.TileStoreProvider and fails every open.
type failingStores struct {
	err error
}

func (f *failingStores) Store(_ string) (output.TileStore, error) { return nil, f.err }

func (f *failingStores) Delete(_ context.Context, _ string) error { return f.err }

func (f *failingStores) Close() error { return nil }
