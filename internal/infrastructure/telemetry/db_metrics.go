package telemetry

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/metric"
)

// DBPoolMetrics reports sql.DB pool statistics through observable gauges.
// Values are read at collection time, so there is no polling goroutine.
type DBPoolMetrics struct {
	registration metric.Registration
}

// NewDBPoolMetrics registers pool gauges for sqlDB on meter.
func NewDBPoolMetrics(meter metric.Meter, sqlDB *sql.DB) (*DBPoolMetrics, error) {
	connections, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Number of connections in the pool by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	maxOpen, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Maximum number of open connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	waits, err := meter.Int64ObservableCounter("db_pool_wait_total",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}

	idle := metric.WithAttributes(AttrDBState.String("idle"))
	inUse := metric.WithAttributes(AttrDBState.String("in_use"))

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(connections, int64(stats.Idle), idle)
		o.ObserveInt64(connections, int64(stats.InUse), inUse)
		o.ObserveInt64(maxOpen, int64(stats.MaxOpenConnections))
		o.ObserveInt64(waits, stats.WaitCount)
		return nil
	}, connections, maxOpen, waits)
	if err != nil {
		return nil, err
	}
	return &DBPoolMetrics{registration: reg}, nil
}

// Stop unregisters the callback
func (m *DBPoolMetrics) Stop() error {
	return m.registration.Unregister()
}

