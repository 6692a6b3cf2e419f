package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sync outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// SyncMetrics holds the instruments recorded around every sync run.
type SyncMetrics struct {
	syncsTotal     *Counter   // chms_sync_total
	syncDuration   *Histogram // chms_sync_duration_seconds
	recordsSynced  *Counter   // chms_sync_records_total
	recordsInvalid *Counter   // chms_sync_invalid_records_total
	capabilityErrs *Counter   // chms_sync_capability_errors_total
	staleRecovered *Counter   // chms_sync_stale_recovered_total
	alertsRaised   *Counter   // chms_sync_alerts_total
}

// NewSyncMetrics creates the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.syncsTotal, err = NewCounter(meter, "chms_sync_total",
		"Sync runs by provider and outcome", "{sync}"); err != nil {
		return nil, err
	}
	if m.syncDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "chms_sync_duration_seconds",
		Description: "Wall time of a full sync run",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.recordsSynced, err = NewCounter(meter, "chms_sync_records_total",
		"Records fetched per capability", "{record}"); err != nil {
		return nil, err
	}
	if m.recordsInvalid, err = NewCounter(meter, "chms_sync_invalid_records_total",
		"Records that failed validation but were kept", "{record}"); err != nil {
		return nil, err
	}
	if m.capabilityErrs, err = NewCounter(meter, "chms_sync_capability_errors_total",
		"Capability fetches that failed, by error kind", "{error}"); err != nil {
		return nil, err
	}
	if m.staleRecovered, err = NewCounter(meter, "chms_sync_stale_recovered_total",
		"Integrations reset by the stale sync watchdog", "{integration}"); err != nil {
		return nil, err
	}
	if m.alertsRaised, err = NewCounter(meter, "chms_sync_alerts_total",
		"Sync health alerts raised, by type and severity", "{alert}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSync records one finished run
func (m *SyncMetrics) RecordSync(ctx context.Context, provider, trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrProvider.String(provider),
		AttrTrigger.String(trigger),
		AttrOutcome.String(outcome),
	}
	m.syncsTotal.Inc(ctx, attrs...)
	if outcome != OutcomeSkipped {
		m.syncDuration.RecordDuration(ctx, d, attrs...)
	}
}

// RecordCapability records the result of fetching one capability
func (m *SyncMetrics) RecordCapability(ctx context.Context, provider, capability string, synced, invalid int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrProvider.String(provider), AttrCapability.String(capability)}
	m.recordsSynced.Add(ctx, int64(synced), attrs...)
	if invalid > 0 {
		m.recordsInvalid.Add(ctx, int64(invalid), attrs...)
	}
}

// RecordCapabilityError counts a failed capability fetch
func (m *SyncMetrics) RecordCapabilityError(ctx context.Context, provider, capability, kind string) {
	if m == nil {
		return
	}
	m.capabilityErrs.Inc(ctx,
		AttrProvider.String(provider),
		AttrCapability.String(capability),
		AttrErrorKind.String(kind),
	)
}

// RecordStaleRecovered counts watchdog resets
func (m *SyncMetrics) RecordStaleRecovered(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.staleRecovered.Inc(ctx, AttrProvider.String(provider))
}

// RecordAlert counts a raised sync health alert
func (m *SyncMetrics) RecordAlert(ctx context.Context, provider, alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.Inc(ctx,
		AttrProvider.String(provider),
		AttrAlertType.String(alertType),
		AttrSeverity.String(severity),
	)
}
