package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// SyncRunner
// ---------------------------------------------------------------------------

// SyncRunner runs one sync. *appintegration.Service satisfies it.
type SyncRunner interface {
	TriggerSync(ctx context.Context, req appintegration.TriggerSyncRequest) (*appintegration.SyncResponse, error)
}

// ---------------------------------------------------------------------------
// SyncSchedulerConfig
// ---------------------------------------------------------------------------

// SyncSchedulerConfig holds configuration for the sync worker pool
type SyncSchedulerConfig struct {
	// MaxConcurrentJobs is the number of workers
	MaxConcurrentJobs int
	// JobTimeout bounds one TriggerSync call
	JobTimeout time.Duration
	// QueueSize is the job channel capacity
	QueueSize int
}

// DefaultSyncSchedulerConfig returns default configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		MaxConcurrentJobs: 5,
		JobTimeout:        15 * time.Minute,
		QueueSize:         100,
	}
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.JobTimeout <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler runs scheduled sync jobs on a fixed pool of workers. An
// integration is queued at most once until its job finishes.
type SyncScheduler struct {
	config SyncSchedulerConfig
	runner SyncRunner
	logger *zap.Logger

	jobs      chan appintegration.SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	pending   map[uuid.UUID]struct{}
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(config SyncSchedulerConfig, runner SyncRunner, logger *zap.Logger) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SyncScheduler{
		config:  config,
		runner:  runner,
		logger:  logger.Named("sync_scheduler"),
		pending: make(map[uuid.UUID]struct{}),
	}, nil
}

// Start starts the worker pool
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.jobs = make(chan appintegration.SyncJob, s.config.QueueSize)
	s.pending = make(map[uuid.UUID]struct{})

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.jobs, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for workers until ctx expires
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// Submit queues a job without blocking
func (s *SyncScheduler) Submit(job appintegration.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if _, queued := s.pending[job.IntegrationID]; queued {
		return ErrJobAlreadyQueued
	}

	select {
	case s.jobs <- job:
		s.pending[job.IntegrationID] = struct{}{}
		s.logger.Debug("Sync job submitted",
			zap.String("integration_id", job.IntegrationID.String()),
			zap.String("provider", job.ProviderID),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Pending returns the number of queued or running jobs
func (s *SyncScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *SyncScheduler) worker(ctx context.Context, jobs <-chan appintegration.SyncJob, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *SyncScheduler) processJob(ctx context.Context, job appintegration.SyncJob, workerID int) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, job.IntegrationID)
		s.mu.Unlock()
	}()

	jobLogger := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("integration_id", job.IntegrationID.String()),
		zap.String("organization_id", job.OrganizationID),
		zap.String("provider", job.ProviderID),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.runner.TriggerSync(jobCtx, appintegration.TriggerSyncRequest{
		IntegrationID: job.IntegrationID,
		Trigger:       appintegration.SyncTriggerScheduled,
	})
	switch {
	case err == nil:
		jobLogger.Info("Scheduled sync completed",
			zap.Int("capabilities", len(resp.Results)),
			zap.Duration("duration", time.Since(start)),
		)
	case errors.Is(err, integration.ErrSyncInProgress), errors.Is(err, integration.ErrIntegrationDisconnected):
		jobLogger.Debug("Scheduled sync skipped", zap.Error(err))
	case errors.Is(err, integration.ErrSyncSuperseded):
		jobLogger.Warn("Scheduled sync outlived its claim on the integration", zap.Error(err))
	default:
		jobLogger.Error("Scheduled sync failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
}
