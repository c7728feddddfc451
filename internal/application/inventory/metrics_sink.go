package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome labels passed to MetricsSink.ObserveOperation
const (
	OutcomeOK = "ok"
)

// MetricsSink receives engine measurements. It is injected at construction
// so tests can observe what the engine reports.
type MetricsSink interface {
	// ObserveOperation records one finished operation. outcome is OutcomeOK
	// or the error code the caller received.
	ObserveOperation(ctx context.Context, op, outcome string, elapsed time.Duration)
	// RecordRetry records one retried attempt; reason is "deadlock" or "conflict".
	RecordRetry(ctx context.Context, op, reason string)
	// RecordExpired records reservations expired while touching a cell.
	RecordExpired(ctx context.Context, count int, quantity decimal.Decimal)
	// RecordPublishFailure records an event that could not be delivered.
	RecordPublishFailure(ctx context.Context, eventType string)
}

// NopMetricsSink discards every measurement.
type NopMetricsSink struct{}

func (NopMetricsSink) ObserveOperation(context.Context, string, string, time.Duration) {}
func (NopMetricsSink) RecordRetry(context.Context, string, string)                     {}
func (NopMetricsSink) RecordExpired(context.Context, int, decimal.Decimal)             {}
func (NopMetricsSink) RecordPublishFailure(context.Context, string)                    {}

var _ MetricsSink = NopMetricsSink{}
