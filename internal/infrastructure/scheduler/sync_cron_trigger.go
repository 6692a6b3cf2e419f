package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
)

// DueJobSource lists integrations whose schedule interval has elapsed
type DueJobSource interface {
	DueSyncJobs(ctx context.Context) ([]appintegration.SyncJob, error)
}

// JobSubmitter accepts sync jobs
type JobSubmitter interface {
	Submit(job appintegration.SyncJob) error
}

// SyncCronTrigger polls for due integrations and feeds them to the scheduler
type SyncCronTrigger struct {
	interval  time.Duration
	source    DueJobSource
	submitter JobSubmitter
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSyncCronTrigger creates a new cron trigger
func NewSyncCronTrigger(interval time.Duration, source DueJobSource, submitter JobSubmitter, logger *zap.Logger) (*SyncCronTrigger, error) {
	if interval <= 0 {
		return nil, ErrInvalidConfig
	}
	return &SyncCronTrigger{
		interval:  interval,
		source:    source,
		submitter: submitter,
		logger:    logger.Named("sync_cron"),
	}, nil
}

// Start runs one check immediately and then one per interval
func (c *SyncCronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Sync cron trigger started", zap.Duration("check_interval", c.interval))
	return nil
}

// Stop stops the trigger loop
func (c *SyncCronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Sync cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SyncCronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	c.Tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick submits every due integration once and returns how many were queued
func (c *SyncCronTrigger) Tick(ctx context.Context) int {
	jobs, err := c.source.DueSyncJobs(ctx)
	if err != nil {
		c.logger.Error("Failed to list due sync jobs", zap.Error(err))
		return 0
	}

	queued := 0
	for _, job := range jobs {
		err := c.submitter.Submit(job)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrJobAlreadyQueued):
		case errors.Is(err, ErrJobQueueFull):
			c.logger.Warn("Sync job queue full, remaining jobs wait for the next tick",
				zap.Int("due", len(jobs)),
				zap.Int("queued", queued),
			)
			return queued
		default:
			c.logger.Error("Failed to submit sync job",
				zap.String("integration_id", job.IntegrationID.String()),
				zap.Error(err),
			)
		}
	}
	if len(jobs) > 0 {
		c.logger.Info("Scheduled due syncs", zap.Int("due", len(jobs)), zap.Int("queued", queued))
	}
	return queued
}
