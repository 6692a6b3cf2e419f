package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleSyncRecoverer resets integrations stuck in syncing.
// *appintegration.Service satisfies it.
type StaleSyncRecoverer interface {
	RecoverStaleSyncs(ctx context.Context, maxAge time.Duration) (int, error)
}

// StaleSyncWatchdog periodically releases syncs whose process died mid-run
type StaleSyncWatchdog struct {
	interval   time.Duration
	staleAfter time.Duration
	recoverer  StaleSyncRecoverer
	logger     *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewStaleSyncWatchdog creates a watchdog
func NewStaleSyncWatchdog(interval, staleAfter time.Duration, recoverer StaleSyncRecoverer, logger *zap.Logger) (*StaleSyncWatchdog, error) {
	if interval <= 0 || staleAfter <= 0 {
		return nil, ErrInvalidConfig
	}
	return &StaleSyncWatchdog{
		interval:   interval,
		staleAfter: staleAfter,
		recoverer:  recoverer,
		logger:     logger.Named("stale_sync_watchdog"),
	}, nil
}

// Start starts the watchdog loop
func (w *StaleSyncWatchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return nil
	}
	w.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.runLoop(ctx)

	w.logger.Info("Stale sync watchdog started",
		zap.Duration("check_interval", w.interval),
		zap.Duration("stale_after", w.staleAfter),
	)
	return nil
}

// Stop stops the watchdog loop
func (w *StaleSyncWatchdog) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Stale sync watchdog stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *StaleSyncWatchdog) runLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass
func (w *StaleSyncWatchdog) Sweep(ctx context.Context) int {
	n, err := w.recoverer.RecoverStaleSyncs(ctx, w.staleAfter)
	if err != nil {
		w.logger.Error("Stale sync recovery incomplete", zap.Int("recovered", n), zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("Recovered stale syncs", zap.Int("recovered", n))
	}
	return n
}
