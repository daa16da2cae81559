package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

func tileReq(z, x, y int, visible bool) DownloadRequest {
	return DownloadRequest{
		Key:     domain.NewTileKey("osm", z, x, y),
		URL:     fmt.Sprintf("https://tiles.test/%d/%d/%d.png", z, x, y),
		Visible: visible,
	}
}

func newTestManager(t *testing.T, f output.TileFetcher, cfg DownloadManagerConfig) *DownloadManager {
	t.Helper()
	m := NewDownloadManager(f, cfg, &output.NoOpMetrics{}, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestDownloadManagerSuccess(t *testing.T) {
	f := newFakeFetcher(nil)
	m := newTestManager(t, f, DownloadManagerConfig{})

	req := tileReq(3, 1, 2, true)
	data, ok := m.Download(context.Background(), req)

	require.True(t, ok)
	assert.Equal(t, []byte("tile:"+req.URL), data)
	assert.Equal(t, int64(1), m.Stats().Succeeded)
}

func TestDownloadManagerDeduplicates(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 4)
	m := newTestManager(t, f, DownloadManagerConfig{})

	req := tileReq(5, 10, 12, false)
	results := make([][]byte, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = m.Download(context.Background(), req)
	}()
	<-f.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = m.Download(context.Background(), req)
	}()
	require.Eventually(t, func() bool { return m.Stats().Deduplicated == 1 },
		time.Second, time.Millisecond)

	close(f.gate)
	wg.Wait()

	assert.Equal(t, 1, f.Calls(req.URL))
	require.NotNil(t, results[0])
	assert.Equal(t, results[0], results[1])
}

func TestDownloadManagerRetryThenGiveUp(t *testing.T) {
	f := newFakeFetcher(func(_ string, _ int) output.FetchResult {
		return output.Retryable(500, errors.New("server returned status 500"))
	})
	m := newTestManager(t, f, DownloadManagerConfig{MaxRetries: 2, RetryDelay: time.Millisecond})

	req := tileReq(1, 0, 0, true)
	data, ok := m.Download(context.Background(), req)

	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Equal(t, 3, f.Calls(req.URL))

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Succeeded)
}

func TestDownloadManagerDefaultRetries(t *testing.T) {
	f := newFakeFetcher(func(_ string, _ int) output.FetchResult {
		return output.Retryable(500, errors.New("server returned status 500"))
	})
	m := newTestManager(t, f, DownloadManagerConfig{RetryDelay: time.Millisecond})

	req := tileReq(1, 0, 1, true)
	_, ok := m.Download(context.Background(), req)

	assert.False(t, ok)
	assert.Equal(t, 1+DefaultMaxRetries, f.Calls(req.URL))
	assert.Equal(t, int64(DefaultMaxRetries), m.Stats().Retried)
}

func TestDownloadManagerNegativeRetriesDisablesRetry(t *testing.T) {
	f := newFakeFetcher(func(_ string, _ int) output.FetchResult {
		return output.Retryable(503, errors.New("server returned status 503"))
	})
	m := newTestManager(t, f, DownloadManagerConfig{MaxRetries: -1, RetryDelay: time.Millisecond})

	req := tileReq(1, 1, 0, true)
	_, ok := m.Download(context.Background(), req)

	assert.False(t, ok)
	assert.Equal(t, 1, f.Calls(req.URL))
	assert.Zero(t, m.Stats().Retried)
}

func TestDownloadManagerFatalIsNotRetried(t *testing.T) {
	f := newFakeFetcher(func(_ string, _ int) output.FetchResult {
		return output.Fatal(404, errors.New("server returned status 404"))
	})
	m := newTestManager(t, f, DownloadManagerConfig{MaxRetries: 2, RetryDelay: time.Millisecond})

	req := tileReq(1, 1, 1, false)
	_, ok := m.Download(context.Background(), req)

	assert.False(t, ok)
	assert.Equal(t, 1, f.Calls(req.URL))
	assert.Zero(t, m.Stats().Retried)
}

func TestDownloadManagerRateLimitUsesFixedDelay(t *testing.T) {
	f := newFakeFetcher(func(url string, call int) output.FetchResult {
		if call == 1 {
			return output.Retryable(429, errors.New("rate limited"))
		}
		return output.Ok([]byte("late"))
	})
	// A huge attempt-scaled delay proves the 429 path uses RateLimitDelay.
	m := newTestManager(t, f, DownloadManagerConfig{
		MaxRetries:     1,
		RetryDelay:     time.Hour,
		RateLimitDelay: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	data, ok := m.Download(ctx, tileReq(2, 1, 1, true))

	require.True(t, ok)
	assert.Equal(t, []byte("late"), data)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDownloadManagerConcurrencyBound(t *testing.T) {
	f := newFakeFetcher(nil)
	f.delay = 20 * time.Millisecond
	m := newTestManager(t, f, DownloadManagerConfig{MaxConcurrent: 6})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := m.Download(context.Background(), tileReq(10, i, 0, i%2 == 0)); ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assert.LessOrEqual(t, f.MaxActive(), 6)
	assert.Greater(t, f.MaxActive(), 1)
	assert.Equal(t, int64(50), f.total.Load())
}

func TestDownloadManagerVisibleFirst(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 8)
	m := newTestManager(t, f, DownloadManagerConfig{MaxConcurrent: 1})

	var wg sync.WaitGroup
	download := func(req DownloadRequest) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Download(context.Background(), req)
		}()
	}

	first := tileReq(4, 0, 0, false)
	download(first)
	<-f.started

	bg1, bg2, vis := tileReq(4, 1, 0, false), tileReq(4, 2, 0, false), tileReq(4, 3, 0, true)
	for i, req := range []DownloadRequest{bg1, bg2, vis} {
		download(req)
		want := i + 1
		require.Eventually(t, func() bool { return m.Stats().Queued == want },
			time.Second, time.Millisecond)
	}

	close(f.gate)
	wg.Wait()

	assert.Equal(t, []string{first.URL, vis.URL, bg1.URL, bg2.URL}, f.Order())
}

func TestDownloadManagerPromotesQueuedBackground(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 8)
	m := newTestManager(t, f, DownloadManagerConfig{MaxConcurrent: 1})

	var wg sync.WaitGroup
	download := func(req DownloadRequest) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Download(context.Background(), req)
		}()
	}

	first := tileReq(6, 0, 0, false)
	download(first)
	<-f.started

	bg1, bg2 := tileReq(6, 1, 0, false), tileReq(6, 2, 0, false)
	download(bg1)
	download(bg2)
	require.Eventually(t, func() bool { return m.Stats().Queued == 2 }, time.Second, time.Millisecond)

	// The same tile comes on screen.
	bg2.Visible = true
	download(bg2)
	require.Eventually(t, func() bool { return m.Stats().Deduplicated == 1 }, time.Second, time.Millisecond)

	close(f.gate)
	wg.Wait()

	assert.Equal(t, []string{first.URL, bg2.URL, bg1.URL}, f.Order())
}

func TestDownloadManagerCancel(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 4)
	m := newTestManager(t, f, DownloadManagerConfig{MaxConcurrent: 1})

	first := tileReq(7, 0, 0, true)
	firstDone := make(chan bool, 1)
	go func() {
		_, ok := m.Download(context.Background(), first)
		firstDone <- ok
	}()
	<-f.started

	queued := tileReq(7, 1, 1, false)
	queuedDone := make(chan bool, 1)
	go func() {
		_, ok := m.Download(context.Background(), queued)
		queuedDone <- ok
	}()
	require.Eventually(t, func() bool { return m.Stats().Queued == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, m.Cancel(queued.Key, domain.NewTileKey("osm", 9, 9, 9)))
	select {
	case ok := <-queuedDone:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("cancelled request did not resolve")
	}

	close(f.gate)
	assert.True(t, <-firstDone)
	assert.Zero(t, f.Calls(queued.URL))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Zero(t, stats.Queued)
}

func TestDownloadManagerCallerContext(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	m := newTestManager(t, f, DownloadManagerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := m.Download(ctx, tileReq(2, 2, 2, true))
	assert.False(t, ok)
	close(f.gate)
}

func TestDownloadManagerResetStats(t *testing.T) {
	f := newFakeFetcher(nil)
	m := newTestManager(t, f, DownloadManagerConfig{})

	for i := 0; i < 3; i++ {
		_, ok := m.Download(context.Background(), tileReq(3, i, 0, false))
		require.True(t, ok)
	}
	assert.Equal(t, int64(3), m.Stats().Succeeded)

	m.ResetStats()
	assert.Equal(t, DownloadStats{}, m.Stats())
}

func TestDownloadManagerClosed(t *testing.T) {
	f := newFakeFetcher(nil)
	m := NewDownloadManager(f, DownloadManagerConfig{}, &output.NoOpMetrics{}, zap.NewNop())
	m.Close()

	_, ok := m.Download(context.Background(), tileReq(0, 0, 0, true))
	assert.False(t, ok)
	assert.Zero(t, f.total.Load())
}
