package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// InventoryMetrics records engine measurements on an OpenTelemetry meter.
// It satisfies the engine's MetricsSink.
type InventoryMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	operationsTotal   *Counter
	operationDuration *Histogram
	retriesTotal      *Counter
	expiredTotal      *Counter
	expiredQuantity   *FloatCounter
	publishFailures   *Counter

	reservationCount    *Gauge
	reservationQuantity *FloatGauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// ReservationGauge is one row of the periodic ledger snapshot.
type ReservationGauge struct {
	Status   string
	Count    int64
	Quantity decimal.Decimal
}

// ReservationStatsProvider supplies ledger totals for periodic collection.
type ReservationStatsProvider interface {
	ReservationGauges(ctx context.Context) ([]ReservationGauge, error)
}

// NewInventoryMetrics creates the instruments on meter.
func NewInventoryMetrics(meter metric.Meter, logger *zap.Logger) (*InventoryMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &InventoryMetrics{meter: meter, logger: logger, stopChan: make(chan struct{})}

	var err error
	if m.operationsTotal, err = NewCounter(meter, "icc_operations_total",
		"Inventory operations by name and outcome", "{operations}"); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "icc_operation_duration_seconds",
		Description: "Wall time of inventory operations including retries",
		Unit:        "s",
		Boundaries:  OperationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.retriesTotal, err = NewCounter(meter, "icc_retries_total",
		"Retried transaction attempts by reason", "{attempts}"); err != nil {
		return nil, err
	}
	if m.expiredTotal, err = NewCounter(meter, "icc_reservations_expired_total",
		"Reservations expired lazily or by the sweeper", "{reservations}"); err != nil {
		return nil, err
	}
	if m.expiredQuantity, err = NewFloatCounter(meter, "icc_reservations_expired_quantity_total",
		"Quantity returned to availability by expiry", "{units}"); err != nil {
		return nil, err
	}
	if m.publishFailures, err = NewCounter(meter, "icc_event_publish_failures_total",
		"Events that could not be delivered after commit", "{events}"); err != nil {
		return nil, err
	}
	if m.reservationCount, err = NewGauge(meter, "icc_reservations",
		"Reservations per status", "{reservations}"); err != nil {
		return nil, err
	}
	if m.reservationQuantity, err = NewFloatGauge(meter, "icc_reservation_quantity",
		"Reserved quantity per status", "{units}"); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveOperation counts a finished operation and records its duration.
func (m *InventoryMetrics) ObserveOperation(ctx context.Context, op, outcome string, elapsed time.Duration) {
	m.operationsTotal.Inc(ctx, AttrOperation.String(op), AttrOutcome.String(outcome))
	m.operationDuration.RecordDuration(ctx, elapsed, AttrOperation.String(op), AttrOutcome.String(outcome))
}

// RecordRetry counts one retried attempt.
func (m *InventoryMetrics) RecordRetry(ctx context.Context, op, reason string) {
	m.retriesTotal.Inc(ctx, AttrOperation.String(op), AttrRetryReason.String(reason))
}

// RecordExpired counts reservations expired in one committed transaction.
func (m *InventoryMetrics) RecordExpired(ctx context.Context, count int, quantity decimal.Decimal) {
	if count <= 0 {
		return
	}
	m.expiredTotal.Add(ctx, int64(count))
	m.expiredQuantity.Add(ctx, quantity.InexactFloat64())
}

// RecordPublishFailure counts an undelivered event.
func (m *InventoryMetrics) RecordPublishFailure(ctx context.Context, eventType string) {
	m.publishFailures.Inc(ctx, AttrEventType.String(eventType))
}

// RecordReservationGauges records a ledger snapshot.
func (m *InventoryMetrics) RecordReservationGauges(ctx context.Context, gauges []ReservationGauge) {
	for _, g := range gauges {
		m.reservationCount.Record(ctx, g.Count, AttrStatus.String(g.Status))
		m.reservationQuantity.Record(ctx, g.Quantity.InexactFloat64(), AttrStatus.String(g.Status))
	}
}

// StartPeriodicCollection samples provider every interval (default 1 minute)
// until Stop is called or ctx ends. Calling it more than once has no effect.
func (m *InventoryMetrics) StartPeriodicCollection(ctx context.Context, provider ReservationStatsProvider, interval time.Duration) {
	m.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go m.runPeriodicCollection(ctx, provider, interval)
	})
}

func (m *InventoryMetrics) runPeriodicCollection(ctx context.Context, provider ReservationStatsProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect(ctx, provider)
	for {
		select {
		case <-m.stopChan:
			m.logger.Info("Stopping reservation gauge collection")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx, provider)
		}
	}
}

func (m *InventoryMetrics) collect(ctx context.Context, provider ReservationStatsProvider) {
	gauges, err := provider.ReservationGauges(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect reservation gauges", zap.Error(err))
		return
	}
	m.RecordReservationGauges(ctx, gauges)
}

// Stop ends periodic collection.
func (m *InventoryMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// ErrMeterNil is returned when a nil meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewInventoryMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
