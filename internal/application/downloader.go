package application

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// Download manager defaults.
const (
	DefaultMaxConcurrentDownloads = 6
	DefaultMaxRetries             = 2
	DefaultRetryDelay             = 500 * time.Millisecond
	DefaultRateLimitDelay         = 5 * time.Second
)

// DownloadManagerConfig configures a DownloadManager.
type DownloadManagerConfig struct {
	MaxConcurrent  int
	MaxRetries     int           // 0 uses DefaultMaxRetries, negative disables retries
	RetryDelay     time.Duration // multiplied by the attempt number
	RateLimitDelay time.Duration // fixed delay after a 429
}

func (c *DownloadManagerConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrentDownloads
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = DefaultRateLimitDelay
	}
}

// DownloadRequest asks for one tile.
type DownloadRequest struct {
	Key     domain.TileKey
	URL     string
	Visible bool // on screen now; served before background requests
}

// DownloadStats are running counters of a DownloadManager.
type DownloadStats struct {
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Retried      int64 `json:"retried"`
	Cancelled    int64 `json:"cancelled"`
	Deduplicated int64 `json:"deduplicated"`
	Queued       int   `json:"queued"`
	InFlight     int   `json:"in_flight"`
}

type taskState int

const (
	taskQueued taskState = iota
	taskInFlight
	taskRetryScheduled
	taskDone
)

// downloadTask lives from the first request for a key until it resolves.
type downloadTask struct {
	key     domain.TileKey
	url     string
	visible bool
	attempt int
	state   taskState
	elem    *list.Element // position in its queue while queued

	done chan struct{}
	data []byte
}

// DownloadManager fetches tiles with bounded concurrency, two-tier priority,
// retries and per-key deduplication. It owns no persistent state.
type DownloadManager struct {
	fetcher output.TileFetcher
	cfg     DownloadManagerConfig
	metrics output.MetricsCollector
	logger  *zap.Logger

	mu         sync.Mutex
	visible    *list.List
	background *list.List
	tasks      map[domain.TileKey]*downloadTask
	active     int
	stats      DownloadStats
	closed     bool

	// Fetches run under baseCtx so a caller giving up does not abort a
	// fetch other callers joined.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDownloadManager creates a download manager.
func NewDownloadManager(
	fetcher output.TileFetcher,
	cfg DownloadManagerConfig,
	metrics output.MetricsCollector,
	logger *zap.Logger,
) *DownloadManager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadManager{
		fetcher:    fetcher,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "downloader")),
		visible:    list.New(),
		background: list.New(),
		tasks:      make(map[domain.TileKey]*downloadTask),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Download returns the tile bytes, or false when the tile could not be
// fetched, was cancelled, or ctx ended first. Failures are not errors.
func (m *DownloadManager) Download(ctx context.Context, req DownloadRequest) ([]byte, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}

	t, ok := m.tasks[req.Key]
	if ok {
		m.stats.Deduplicated++
		if req.Visible && !t.visible {
			m.promoteLocked(t)
		}
	} else {
		t = &downloadTask{
			key:     req.Key,
			url:     req.URL,
			visible: req.Visible,
			done:    make(chan struct{}),
		}
		m.tasks[req.Key] = t
		m.enqueueLocked(t)
		m.dispatchLocked()
	}
	m.mu.Unlock()

	select {
	case <-t.done:
		return t.data, t.data != nil
	case <-ctx.Done():
		return nil, false
	}
}

// Cancel resolves the given not yet resolved requests as absent. Fetches
// already on the wire keep running but their results are discarded.
// It returns the number of requests cancelled.
func (m *DownloadManager) Cancel(keys ...domain.TileKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancelled := 0
	for _, key := range keys {
		t, ok := m.tasks[key]
		if !ok {
			continue
		}
		if t.state == taskQueued {
			m.queueFor(t).Remove(t.elem)
			t.elem = nil
		}
		m.stats.Cancelled++
		m.resolveLocked(t, nil)
		cancelled++
	}
	if cancelled > 0 {
		m.reportQueueLocked()
	}
	return cancelled
}

// Promote moves a queued background request for key to the visible tier.
// It reports whether a pending request for key exists.
func (m *DownloadManager) Promote(key domain.TileKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return false
	}
	if !t.visible {
		m.promoteLocked(t)
	}
	return true
}

// Stats returns a snapshot of the counters.
func (m *DownloadManager) Stats() DownloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.Queued = m.visible.Len() + m.background.Len()
	s.InFlight = m.active
	return s
}

// ResetStats zeroes the counters. Queue gauges are unaffected.
func (m *DownloadManager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = DownloadStats{}
}

// Close resolves every pending request as absent and waits for running
// fetches to return.
func (m *DownloadManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, t := range m.tasks {
		if t.state == taskQueued {
			m.queueFor(t).Remove(t.elem)
			t.elem = nil
		}
		m.resolveLocked(t, nil)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *DownloadManager) queueFor(t *downloadTask) *list.List {
	if t.visible {
		return m.visible
	}
	return m.background
}

func (m *DownloadManager) enqueueLocked(t *downloadTask) {
	t.state = taskQueued
	t.elem = m.queueFor(t).PushBack(t)
}

// promoteLocked moves a background task to the visible tier. Only queued
// tasks change position; in-flight work is never preempted.
func (m *DownloadManager) promoteLocked(t *downloadTask) {
	if t.state == taskQueued {
		m.background.Remove(t.elem)
		t.visible = true
		t.elem = m.visible.PushBack(t)
		return
	}
	t.visible = true
}

// dispatchLocked starts queued tasks while slots are free.
func (m *DownloadManager) dispatchLocked() {
	for m.active < m.cfg.MaxConcurrent {
		q := m.visible
		if q.Len() == 0 {
			q = m.background
		}
		front := q.Front()
		if front == nil {
			break
		}
		t := q.Remove(front).(*downloadTask)
		t.elem = nil
		t.state = taskInFlight
		m.active++
		m.wg.Add(1)
		go m.run(t)
	}
	m.reportQueueLocked()
}

func (m *DownloadManager) run(t *downloadTask) {
	defer m.wg.Done()

	res := m.fetcher.Fetch(m.baseCtx, t.url)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	defer m.dispatchLocked()

	if t.state == taskDone {
		// Cancelled while on the wire.
		return
	}

	switch res.Outcome {
	case output.FetchOK:
		m.stats.Succeeded++
		m.metrics.IncTileDownloads("succeeded")
		m.resolveLocked(t, res.Data)

	case output.FetchRetryable:
		if t.attempt < m.cfg.MaxRetries && !m.closed {
			t.attempt++
			t.state = taskRetryScheduled
			m.stats.Retried++
			m.metrics.IncDownloadRetries()
			delay := m.retryDelay(res, t.attempt)
			m.logger.Debug("retrying tile download",
				zap.String("tile", t.key.String()),
				zap.Int("attempt", t.attempt),
				zap.Int("status", res.StatusCode),
				zap.Duration("delay", delay),
				zap.Error(res.Err))
			time.AfterFunc(delay, func() { m.requeue(t) })
			return
		}
		m.fail(t, res)

	default:
		m.fail(t, res)
	}
}

func (m *DownloadManager) fail(t *downloadTask, res output.FetchResult) {
	m.stats.Failed++
	m.metrics.IncTileDownloads("failed")
	m.logger.Debug("tile download failed",
		zap.String("tile", t.key.String()),
		zap.String("outcome", res.Outcome.String()),
		zap.Int("attempts", t.attempt+1),
		zap.Int("status", res.StatusCode),
		zap.Error(res.Err))
	m.resolveLocked(t, nil)
}

func (m *DownloadManager) retryDelay(res output.FetchResult, attempt int) time.Duration {
	if res.RateLimited {
		return m.cfg.RateLimitDelay
	}
	return m.cfg.RetryDelay * time.Duration(attempt)
}

func (m *DownloadManager) requeue(t *downloadTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.state != taskRetryScheduled {
		return
	}
	if m.closed {
		m.resolveLocked(t, nil)
		return
	}
	// Retries go ahead of fresh work in their own tier.
	t.state = taskQueued
	t.elem = m.queueFor(t).PushFront(t)
	m.dispatchLocked()
}

// resolveLocked publishes the result to every waiter and forgets the key.
func (m *DownloadManager) resolveLocked(t *downloadTask, data []byte) {
	if t.state == taskDone {
		return
	}
	t.state = taskDone
	t.data = data
	if cur, ok := m.tasks[t.key]; ok && cur == t {
		delete(m.tasks, t.key)
	}
	close(t.done)
}

func (m *DownloadManager) reportQueueLocked() {
	m.metrics.SetDownloadQueue(m.visible.Len()+m.background.Len(), m.active)
}
