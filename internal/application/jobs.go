package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// JobState is the lifecycle state of an offline download job.
type JobState string

// Job states.
const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is a snapshot of an offline download job.
type Job struct {
	ID         string             `json:"id"`
	Request    OfflineAreaRequest `json:"request"`
	State      JobState           `json:"state"`
	Progress   float64            `json:"progress"`
	Message    string             `json:"message,omitempty"`
	Result     OfflineResult      `json:"result"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Done returns true once the job reached a terminal state.
func (j Job) Done() bool {
	return j.State != JobRunning
}

// AreaDownloader runs one offline area download.
type AreaDownloader interface {
	Download(ctx context.Context, req OfflineAreaRequest, progress domain.ProgressFunc) (OfflineResult, error)
}

type jobEntry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager runs offline downloads in the background.
type JobManager struct {
	downloader AreaDownloader
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.RWMutex
	jobs map[string]*jobEntry

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobManager creates a job manager.
func NewJobManager(downloader AreaDownloader, logger *zap.Logger) *JobManager {
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		downloader: downloader,
		logger:     logger.With(zap.String("component", "jobs")),
		now:        time.Now,
		jobs:       make(map[string]*jobEntry),
		baseCtx:    ctx,
		stop:       stop,
	}
}

// Start validates req and launches its download. The returned snapshot
// carries the job ID.
func (m *JobManager) Start(req OfflineAreaRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	e := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			Request:   req,
			State:     JobRunning,
			StartedAt: m.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[e.job.ID] = e
	snapshot := e.job
	m.mu.Unlock()

	m.logger.Info("offline job started",
		zap.String("job_id", snapshot.ID),
		zap.String("basemap_id", req.BasemapID))

	m.wg.Add(1)
	go m.run(ctx, e)
	return snapshot, nil
}

func (m *JobManager) run(ctx context.Context, e *jobEntry) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	progress := func(fraction float64, message string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		e.job.Progress = fraction
		e.job.Message = message
	}

	res, err := m.downloader.Download(ctx, e.job.Request, progress)

	m.mu.Lock()
	defer m.mu.Unlock()
	finished := m.now()
	e.job.Result = res
	e.job.FinishedAt = &finished
	switch {
	case errors.Is(err, domain.ErrCancelled):
		e.job.State = JobCancelled
	case err != nil:
		e.job.State = JobFailed
		e.job.Message = err.Error()
	default:
		e.job.State = JobSucceeded
	}
	m.logger.Info("offline job finished",
		zap.String("job_id", e.job.ID),
		zap.String("state", string(e.job.State)),
		zap.Int64("downloaded", res.Downloaded),
		zap.Int64("cached", res.Cached),
		zap.Int64("failed", res.Failed))
}

// Get returns a job snapshot.
func (m *JobManager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%q: %w", id, domain.ErrJobNotFound)
	}
	return e.job, nil
}

// List returns all jobs, newest first.
func (m *JobManager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// Cancel asks a running job to stop at its next batch boundary.
func (m *JobManager) Cancel(id string) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%q: %w", id, domain.ErrJobNotFound)
	}
	e.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx ends.
func (m *JobManager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%q: %w", id, domain.ErrJobNotFound)
	}

	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close cancels all running jobs and waits for them.
func (m *JobManager) Close() {
	m.stop()
	m.wg.Wait()
}
