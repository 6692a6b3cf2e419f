package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

// Config holds the alert thresholds
type Config struct {
	// ErrorThreshold is the number of failed runs within Window that may
	// pass before an error alert fires.
	ErrorThreshold    int
	Window            int
	SlowSyncThreshold time.Duration
	Cooldown          time.Duration
	HistorySize       int
	NotifyTimeout     time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:    2,
		Window:            10,
		SlowSyncThreshold: 10 * time.Minute,
		Cooldown:          time.Hour,
		HistorySize:       500,
		NotifyTimeout:     5 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.ErrorThreshold < 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// runHistory is the recent outcome window of one integration
type runHistory struct {
	failed    []bool
	durations []time.Duration
	lastAlert map[AlertType]time.Time
}

// Monitor evaluates every observed sync against the thresholds and fans
// raised alerts out to its notifiers in the background.
type Monitor struct {
	cfg       Config
	notifiers []Notifier
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
	newID     func() string

	mu      sync.Mutex
	runs    map[uuid.UUID]*runHistory
	history []Alert
	stopped bool
	wg      sync.WaitGroup
}

var _ appintegration.SyncObserver = (*Monitor)(nil)

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithNotifier adds a notification channel
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) {
		m.notifiers = append(m.notifiers, n)
	}
}

// WithMetrics counts raised alerts
func WithMetrics(metrics *telemetry.SyncMetrics) MonitorOption {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// NewMonitor creates a monitor
func NewMonitor(cfg Config, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:    cfg.normalized(),
		logger: logger.Named("sync_alerts"),
		newID:  uuid.NewString,
		runs:   make(map[uuid.UUID]*runHistory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ObserveSync implements appintegration.SyncObserver. It evaluates the
// outcome synchronously and never waits on a notifier.
func (m *Monitor) ObserveSync(ctx context.Context, o appintegration.SyncObservation) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	raised := m.evaluate(o)
	for _, alert := range raised {
		m.remember(alert)
	}
	if len(raised) > 0 {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if len(raised) == 0 {
		return
	}
	for _, alert := range raised {
		m.metrics.RecordAlert(ctx, alert.Provider, string(alert.Type), string(alert.Severity))
	}
	go func() {
		defer m.wg.Done()
		m.dispatch(context.WithoutCancel(ctx), raised)
	}()
}

// evaluate updates the window of o's integration and returns the alerts
// that fire. Caller holds m.mu.
func (m *Monitor) evaluate(o appintegration.SyncObservation) []Alert {
	h, ok := m.runs[o.IntegrationID]
	if !ok {
		h = &runHistory{lastAlert: make(map[AlertType]time.Time)}
		m.runs[o.IntegrationID] = h
	}

	h.failed = appendWindow(h.failed, o.Failed(), m.cfg.Window)
	// watchdog resets carry no run time
	if o.Duration > 0 {
		h.durations = appendWindow(h.durations, o.Duration, m.cfg.Window)
	}
	if !o.Failed() {
		// a recovered integration alerts again on its next failure
		delete(h.lastAlert, AlertTypeStatus)
	}

	base := Alert{
		IntegrationID:  o.IntegrationID,
		OrganizationID: o.OrganizationID,
		Provider:       o.ProviderID,
		Timestamp:      o.FinishedAt,
	}
	var raised []Alert
	fire := func(t AlertType, sev Severity, msg string, meta map[string]any) {
		if last, ok := h.lastAlert[t]; ok && o.FinishedAt.Sub(last) < m.cfg.Cooldown {
			return
		}
		h.lastAlert[t] = o.FinishedAt
		a := base
		a.ID = m.newID()
		a.Type, a.Severity, a.Message, a.Metadata = t, sev, msg, meta
		raised = append(raised, a)
	}

	if failures := countTrue(h.failed); failures > m.cfg.ErrorThreshold {
		fire(AlertTypeError, SeverityHigh,
			fmt.Sprintf("High error rate detected for %s", o.ProviderID),
			map[string]any{"error_count": failures, "window": len(h.failed), "threshold": m.cfg.ErrorThreshold})
	}
	if m.cfg.SlowSyncThreshold > 0 && len(h.durations) > 0 {
		if avg := average(h.durations); avg > m.cfg.SlowSyncThreshold {
			fire(AlertTypePerformance, SeverityMedium,
				fmt.Sprintf("Slow sync performance detected for %s", o.ProviderID),
				map[string]any{"average_sync_time": avg.String(), "threshold": m.cfg.SlowSyncThreshold.String()})
		}
	}
	if o.Failed() {
		fire(AlertTypeStatus, SeverityHigh,
			fmt.Sprintf("Integration error detected for %s", o.ProviderID),
			map[string]any{"error": o.Error, "trigger": string(o.Trigger)})
	}
	return raised
}

// remember appends to the bounded alert history. Caller holds m.mu.
func (m *Monitor) remember(alert Alert) {
	m.history = append(m.history, alert)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
}

// dispatch sends every alert through every notifier, each with its own timeout
func (m *Monitor) dispatch(ctx context.Context, alerts []Alert) {
	for _, alert := range alerts {
		for _, n := range m.notifiers {
			nctx, cancel := context.WithTimeout(ctx, m.cfg.NotifyTimeout)
			err := n.Notify(nctx, alert)
			cancel()
			if err != nil {
				m.logger.Error("Failed to send alert",
					zap.String("channel", n.Name()),
					zap.String("alert_id", alert.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// AlertFilter selects alerts from the history. Zero fields match everything.
type AlertFilter struct {
	IntegrationID uuid.UUID
	Type          AlertType
	Severity      Severity
	Since         time.Time
	Until         time.Time
}

func (f AlertFilter) matches(a Alert) bool {
	switch {
	case f.IntegrationID != uuid.Nil && a.IntegrationID != f.IntegrationID:
		return false
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.Severity != "" && a.Severity != f.Severity:
		return false
	case !f.Since.IsZero() && a.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && a.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Alerts returns the remembered alerts matching f, newest first
func (m *Monitor) Alerts(f AlertFilter) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0)
	for idx := len(m.history) - 1; idx >= 0; idx-- {
		if f.matches(m.history[idx]) {
			out = append(out, m.history[idx])
		}
	}
	return out
}

// Stop rejects new observations and waits for pending notifications
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func appendWindow[T any](s []T, v T, size int) []T {
	s = append(s, v)
	if len(s) > size {
		s = s[len(s)-size:]
	}
	return s
}

func countTrue(s []bool) int {
	n := 0
	for _, v := range s {
		if v {
			n++
		}
	}
	return n
}

func average(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
