package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
)

type fakeSource struct {
	mu    sync.Mutex
	jobs  []appintegration.SyncJob
	err   error
	calls int
}

func (f *fakeSource) DueSyncJobs(context.Context) ([]appintegration.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.jobs, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []appintegration.SyncJob
	errs      []error
}

func (f *fakeSubmitter) Submit(job appintegration.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.submitted)
	f.submitted = append(f.submitted, job)
	if idx < len(f.errs) {
		return f.errs[idx]
	}
	return nil
}

func TestNewSyncCronTrigger_InvalidInterval(t *testing.T) {
	_, err := NewSyncCronTrigger(0, &fakeSource{}, &fakeSubmitter{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSyncCronTrigger_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("submits every due job", func(t *testing.T) {
		source := &fakeSource{jobs: []appintegration.SyncJob{newJob(), newJob()}}
		submitter := &fakeSubmitter{}
		trigger, err := NewSyncCronTrigger(time.Minute, source, submitter, zap.NewNop())
		require.NoError(t, err)

		assert.Equal(t, 2, trigger.Tick(ctx))
		assert.Len(t, submitter.submitted, 2)
	})

	t.Run("already queued jobs are not counted", func(t *testing.T) {
		source := &fakeSource{jobs: []appintegration.SyncJob{newJob(), newJob()}}
		submitter := &fakeSubmitter{errs: []error{ErrJobAlreadyQueued}}
		trigger, _ := NewSyncCronTrigger(time.Minute, source, submitter, zap.NewNop())

		assert.Equal(t, 1, trigger.Tick(ctx))
	})

	t.Run("full queue stops the tick", func(t *testing.T) {
		source := &fakeSource{jobs: []appintegration.SyncJob{newJob(), newJob(), newJob()}}
		submitter := &fakeSubmitter{errs: []error{nil, ErrJobQueueFull}}
		trigger, _ := NewSyncCronTrigger(time.Minute, source, submitter, zap.NewNop())

		assert.Equal(t, 1, trigger.Tick(ctx))
		assert.Len(t, submitter.submitted, 2)
	})

	t.Run("listing failure queues nothing", func(t *testing.T) {
		source := &fakeSource{err: errors.New("db down")}
		submitter := &fakeSubmitter{}
		trigger, _ := NewSyncCronTrigger(time.Minute, source, submitter, zap.NewNop())

		assert.Equal(t, 0, trigger.Tick(ctx))
		assert.Empty(t, submitter.submitted)
	})
}

func TestSyncCronTrigger_Loop(t *testing.T) {
	source := &fakeSource{}
	trigger, err := NewSyncCronTrigger(10*time.Millisecond, source, &fakeSubmitter{}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return source.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))
	require.NoError(t, trigger.Stop(stopCtx))
}
