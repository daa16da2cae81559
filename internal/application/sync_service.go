package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// DefaultTriggerCooldown is the minimum time between manual syncs.
const DefaultTriggerCooldown = 30 * time.Second

// BasemapSyncer imports PDF sources from object storage.
type BasemapSyncer interface {
	Sync(ctx context.Context) (SyncStats, error)
	Counts() (total, ready int)
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	BasemapsAdded   int       `json:"basemaps_added"`
	BasemapsSkipped int       `json:"basemaps_skipped"`
	BasemapsFailed  int       `json:"basemaps_failed"`
	BasemapsTotal   int       `json:"basemaps_total"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService manages periodic synchronization with remote storage.
type SyncService struct {
	syncer   BasemapSyncer
	interval time.Duration
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent sync operations
	syncOpMutex sync.Mutex

	// Track next scheduled sync for reporting
	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service. A cooldown of zero uses
// DefaultTriggerCooldown.
func NewSyncService(syncer BasemapSyncer, interval, cooldown time.Duration, logger *zap.Logger) *SyncService {
	if cooldown <= 0 {
		cooldown = DefaultTriggerCooldown
	}
	return &SyncService{
		syncer:   syncer,
		interval: interval,
		cooldown: cooldown,
		logger:   logger.With(zap.String("component", "sync")),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main sync loop.
func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(s.now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.doSync(ctx); err != nil {
				s.logger.Error("sync failed", zap.Error(err))
			}
			s.setNextSync(s.now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerSync manually triggers a sync. It returns domain.ErrRateLimited
// when the previous manual sync was less than the cooldown ago.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	now := s.now()
	if !s.lastAPISync.IsZero() && now.Sub(s.lastAPISync) < s.cooldown {
		return SyncResult{}, domain.ErrRateLimited
	}
	s.lastAPISync = now

	return s.doSync(ctx)
}

func (s *SyncService) doSync(ctx context.Context) (SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	stats, err := s.syncer.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	total, _ := s.syncer.Counts()
	s.logger.Info("sync completed",
		zap.Int("added", stats.Added),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("total", total))

	return SyncResult{
		BasemapsAdded:   stats.Added,
		BasemapsSkipped: stats.Skipped,
		BasemapsFailed:  stats.Failed,
		BasemapsTotal:   total,
		SyncedAt:        s.now(),
		NextScheduledAt: s.getNextSync(),
	}, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}

// Cooldown returns the minimum time between manual syncs.
func (s *SyncService) Cooldown() time.Duration {
	return s.cooldown
}
