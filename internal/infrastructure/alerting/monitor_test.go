package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// recordingNotifier keeps every alert it is sent
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordingNotifier) types() []AlertType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]AlertType, len(n.alerts))
	for i, a := range n.alerts {
		out[i] = a.Type
	}
	return out
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func observation(id uuid.UUID, at time.Time, status integration.Status, d time.Duration) appintegration.SyncObservation {
	o := appintegration.SyncObservation{
		IntegrationID:  id,
		OrganizationID: "org-1",
		ProviderID:     integration.ProviderBreeze,
		Trigger:        appintegration.SyncTriggerScheduled,
		Status:         status,
		Duration:       d,
		FinishedAt:     at,
	}
	if status == integration.StatusError {
		o.Error = "invalid api key"
	}
	return o
}

func newTestMonitor(t *testing.T, cfg Config, n Notifier) *Monitor {
	t.Helper()
	m := NewMonitor(cfg, zap.NewNop(), WithNotifier(n))
	seq := 0
	m.newID = func() string {
		seq++
		return fmt.Sprintf("alert-%d", seq)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// flush waits for the background notifications of everything observed so far
func flush(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestMonitor_ErrorRateAndStatusAlerts(t *testing.T) {
	n := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 2
	cfg.Cooldown = time.Hour
	m := newTestMonitor(t, cfg, n)
	ctx := context.Background()
	id := uuid.New()

	for k := 0; k < 3; k++ {
		m.ObserveSync(ctx, observation(id, t0.Add(time.Duration(k)*time.Minute), integration.StatusError, time.Second))
	}
	flush(t, m)

	// the status alert fires once inside the cooldown, the error rate alert on the third failure
	assert.ElementsMatch(t, []AlertType{AlertTypeStatus, AlertTypeError}, n.types())

	errAlert := m.Alerts(AlertFilter{Type: AlertTypeError})
	require.Len(t, errAlert, 1)
	assert.Equal(t, SeverityHigh, errAlert[0].Severity)
	assert.Equal(t, 3, errAlert[0].Metadata["error_count"])
	assert.Equal(t, "High error rate detected for breeze", errAlert[0].Message)

	status := m.Alerts(AlertFilter{Type: AlertTypeStatus})
	require.Len(t, status, 1)
	assert.Equal(t, "invalid api key", status[0].Metadata["error"])
	assert.Equal(t, id, status[0].IntegrationID)
}

func TestMonitor_RecoveryRearmsStatusAlert(t *testing.T) {
	n := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 5
	m := newTestMonitor(t, cfg, n)
	ctx := context.Background()
	id := uuid.New()

	m.ObserveSync(ctx, observation(id, t0, integration.StatusError, time.Second))
	m.ObserveSync(ctx, observation(id, t0.Add(time.Minute), integration.StatusConnected, time.Second))
	m.ObserveSync(ctx, observation(id, t0.Add(2*time.Minute), integration.StatusError, time.Second))
	flush(t, m)

	assert.Equal(t, []AlertType{AlertTypeStatus, AlertTypeStatus}, n.types())
}

func TestMonitor_CooldownExpires(t *testing.T) {
	n := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 5
	cfg.Cooldown = 30 * time.Minute
	m := newTestMonitor(t, cfg, n)
	ctx := context.Background()
	id := uuid.New()

	m.ObserveSync(ctx, observation(id, t0, integration.StatusError, time.Second))
	m.ObserveSync(ctx, observation(id, t0.Add(10*time.Minute), integration.StatusError, time.Second))
	m.ObserveSync(ctx, observation(id, t0.Add(40*time.Minute), integration.StatusError, time.Second))
	flush(t, m)

	assert.Len(t, m.Alerts(AlertFilter{IntegrationID: id, Type: AlertTypeStatus}), 2)
}

func TestMonitor_SlowSyncAlert(t *testing.T) {
	n := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.SlowSyncThreshold = 10 * time.Minute
	cfg.Window = 3
	m := newTestMonitor(t, cfg, n)
	ctx := context.Background()
	id := uuid.New()

	m.ObserveSync(ctx, observation(id, t0, integration.StatusConnected, 5*time.Minute))
	m.ObserveSync(ctx, observation(id, t0.Add(time.Hour), integration.StatusConnected, 12*time.Minute))
	assert.Empty(t, m.Alerts(AlertFilter{}), "average still below the threshold")

	// a watchdog reset carries no duration and does not pull the average down
	reset := observation(id, t0.Add(2*time.Hour), integration.StatusConnected, 0)
	reset.Trigger = appintegration.SyncTriggerWatchdog
	m.ObserveSync(ctx, reset)
	m.ObserveSync(ctx, observation(id, t0.Add(3*time.Hour), integration.StatusConnected, 20*time.Minute))
	flush(t, m)

	perf := m.Alerts(AlertFilter{Type: AlertTypePerformance})
	require.Len(t, perf, 1)
	assert.Equal(t, SeverityMedium, perf[0].Severity)
	assert.Equal(t, (37 * time.Minute / 3).String(), perf[0].Metadata["average_sync_time"])
}

func TestMonitor_IntegrationsAreTrackedSeparately(t *testing.T) {
	n := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	m := newTestMonitor(t, cfg, n)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	m.ObserveSync(ctx, observation(a, t0, integration.StatusError, time.Second))
	m.ObserveSync(ctx, observation(b, t0, integration.StatusError, time.Second))
	flush(t, m)

	assert.Empty(t, m.Alerts(AlertFilter{Type: AlertTypeError}))
	assert.Len(t, m.Alerts(AlertFilter{IntegrationID: a}), 1)
	assert.Len(t, m.Alerts(AlertFilter{IntegrationID: b}), 1)
}

func TestMonitor_AlertsFilterAndHistoryBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	cfg.ErrorThreshold = 5
	m := newTestMonitor(t, cfg, &recordingNotifier{})
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for k, id := range ids {
		m.ObserveSync(ctx, observation(id, t0.Add(time.Duration(k)*time.Hour), integration.StatusError, time.Second))
	}
	flush(t, m)

	all := m.Alerts(AlertFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, ids[2], all[0].IntegrationID, "newest first")
	assert.Equal(t, ids[1], all[1].IntegrationID)

	assert.Len(t, m.Alerts(AlertFilter{Since: t0.Add(90 * time.Minute)}), 1)
	assert.Len(t, m.Alerts(AlertFilter{Until: t0.Add(90 * time.Minute)}), 1)
	assert.Empty(t, m.Alerts(AlertFilter{Severity: SeverityLow}))
}

func TestMonitor_NotifierFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	failing := &recordingNotifier{err: errors.New("webhook down")}
	m := NewMonitor(DefaultConfig(), zap.New(core), WithNotifier(failing))

	m.ObserveSync(context.Background(), observation(uuid.New(), t0, integration.StatusError, time.Second))
	flush(t, m)

	require.Equal(t, 1, logs.FilterMessage("Failed to send alert").Len())
	entry := logs.FilterMessage("Failed to send alert").All()[0]
	assert.Equal(t, "recording", entry.ContextMap()["channel"])
	assert.Len(t, m.Alerts(AlertFilter{}), 1, "the alert is kept even when delivery fails")
}

func TestMonitor_StopIgnoresLaterObservations(t *testing.T) {
	n := &recordingNotifier{}
	m := newTestMonitor(t, DefaultConfig(), n)
	require.NoError(t, m.Stop(context.Background()))

	m.ObserveSync(context.Background(), observation(uuid.New(), t0, integration.StatusError, time.Second))
	assert.Empty(t, n.types())
	assert.Empty(t, m.Alerts(AlertFilter{}))
}
