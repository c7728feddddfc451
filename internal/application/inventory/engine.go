package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/logger"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig holds the engine's deadlines and retry budgets.
type EngineConfig struct {
	SingleCellTimeout time.Duration
	TransferTimeout   time.Duration

	DeadlockRetries    int
	DeadlockBackoff    time.Duration
	DeadlockMultiplier float64

	ConflictRetries int
	ConflictBackoff time.Duration
	ConflictJitter  float64

	// PublishTimeout bounds event publication after commit.
	PublishTimeout time.Duration

	// DefaultReservationTTL applies to reserve commands without ExpiresAt.
	// Zero leaves such reservations without a deadline.
	DefaultReservationTTL time.Duration
}

// DefaultEngineConfig returns 30s/60s deadlines and three deadlock retries
// at 50ms, 200ms and 800ms.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SingleCellTimeout:  30 * time.Second,
		TransferTimeout:    60 * time.Second,
		DeadlockRetries:    3,
		DeadlockBackoff:    50 * time.Millisecond,
		DeadlockMultiplier: 4,
		ConflictRetries:    3,
		ConflictBackoff:    25 * time.Millisecond,
		ConflictJitter:     0.5,
		PublishTimeout:     5 * time.Second,
	}
}

func (c EngineConfig) deadlockBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.DeadlockBackoff
	b.Multiplier = c.DeadlockMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.DeadlockRetries))
}

func (c EngineConfig) conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.ConflictBackoff
	b.RandomizationFactor = c.ConflictJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.ConflictRetries))
}

// Engine is the transactional orchestrator of the inventory core. Every
// mutating command runs as exactly one committed database transaction; events
// describing the committed entries are published afterwards.
type Engine struct {
	scope     TransactionScope
	publisher shared.EventPublisher
	metrics   MetricsSink
	logger    *zap.Logger
	cfg       EngineConfig
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. A nil publisher drops events and a nil
// metrics sink discards measurements.
func NewEngine(
	scope TransactionScope,
	publisher shared.EventPublisher,
	metrics MetricsSink,
	logger *zap.Logger,
	cfg EngineConfig,
) *Engine {
	if metrics == nil {
		metrics = NopMetricsSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		scope:     scope,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// SetClock replaces the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Execute dispatches a command to its operation. The result is nil
// whenever the error is not.
func (e *Engine) Execute(ctx context.Context, cmd Command) (Result, error) {
	var (
		res Result
		err error
	)
	switch c := cmd.(type) {
	case ReserveCommand:
		res, err = e.Reserve(ctx, c)
	case ReleaseCommand:
		res, err = e.Release(ctx, c)
	case ConsumeCommand:
		res, err = e.Consume(ctx, c)
	case ReceiveCommand:
		res, err = e.Receive(ctx, c)
	case AdjustCommand:
		res, err = e.Adjust(ctx, c)
	case TransferCommand:
		res, err = e.Transfer(ctx, c)
	case FulfillCommand:
		res, err = e.Fulfill(ctx, c)
	case ReturnCommand:
		res, err = e.Return(ctx, c)
	case IssueCommand:
		res, err = e.Issue(ctx, c)
	case ExpireCommand:
		res, err = e.ExpireCell(ctx, c)
	case GetBalanceQuery:
		res, err = e.GetBalance(ctx, c)
	case CheckAvailabilityQuery:
		res, err = e.CheckAvailability(ctx, c)
	default:
		return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("unsupported command %T", cmd))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// clock returns the engine time at the precision the database keeps.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// run executes fn as one transaction with deadline, retry, metrics and
// post-commit publication. fn is re-invoked from scratch on every attempt.
func (e *Engine) run(
	ctx context.Context,
	op string,
	timeout time.Duration,
	env Envelope,
	fn func(tx *opTx) error,
	spanAttrs ...any,
) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "inventory", op)
	defer span.End()
	telemetry.SetAttributes(span, spanAttrs...)
	if !env.Ref.IsZero() {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrRefType, env.Ref.Type,
			telemetry.SpanAttrRefID, env.Ref.ID,
		)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operationID := env.OperationID
	if operationID == uuid.Nil {
		operationID = uuid.New()
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOperationID, operationID.String())
	ctx = logger.WithOperationID(ctx, operationID.String())
	if env.Actor != "" {
		ctx = logger.WithActor(ctx, env.Actor)
	}

	started := time.Now()
	var committed []*inventory.InventoryTransaction
	err := e.retry(ctx, op, func() error {
		var tx *opTx
		err := e.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			tx = newOpTx(ctx, repos, inventory.EntryContext{
				OperationID: operationID,
				OccurredAt:  e.clock(),
				Ref:         env.Ref,
				Reason:      env.Reason,
				Actor:       env.Actor,
			}, env.OperationID != uuid.Nil)
			return fn(tx)
		})
		if err == nil {
			committed = tx.entries
			if tx.expiredCount > 0 {
				e.metrics.RecordExpired(ctx, tx.expiredCount, tx.expiredQuantity)
			}
		}
		return err
	})
	err = e.surface(ctx, op, err)

	outcome := OutcomeOK
	if err != nil {
		outcome = shared.CodeOf(err)
		telemetry.RecordError(span, err)
		e.logOutcome(ctx, op, err)
	} else {
		telemetry.SetOK(span)
	}
	e.metrics.ObserveOperation(ctx, op, outcome, time.Since(started))

	if err == nil && len(committed) > 0 {
		e.publish(ctx, committed)
	}
	return err
}

// retry re-runs attempt while it fails with a deadlock or a serialization
// conflict, each with its own budget.
func (e *Engine) retry(ctx context.Context, op string, attempt func() error) error {
	deadlocks := e.cfg.deadlockBackOff()
	conflicts := e.cfg.conflictBackOff()
	attempts := 0
	for {
		attempts++
		err := attempt()
		if err == nil {
			return nil
		}

		var (
			policy backoff.BackOff
			reason string
		)
		switch {
		case errors.Is(err, shared.ErrDeadlock):
			policy, reason = deadlocks, "deadlock"
		case errors.Is(err, shared.ErrConcurrencyConflict):
			policy, reason = conflicts, "conflict"
		default:
			return err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return &inventory.ConflictError{Operation: op, Attempts: attempts, Err: err}
		}
		e.metrics.RecordRetry(ctx, op, reason)
		logger.WithLogger(ctx, e.logger).Debug("Retrying inventory operation",
			zap.String("operation", op),
			zap.String("reason", reason),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
		)
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// surface maps an attempt error to the caller-facing taxonomy.
func (e *Engine) surface(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *inventory.ConflictError
	switch {
	case errors.As(err, &conflict):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &inventory.TimeoutError{Operation: op, Err: err}
	case shared.IsBusinessError(err):
		return err
	}
	var de *shared.DomainError
	if errors.As(err, &de) && de.Code == shared.CodeInternal {
		return err
	}
	return &inventory.InternalError{Operation: op, Err: err}
}

func (e *Engine) logOutcome(ctx context.Context, op string, err error) {
	log := logger.WithLogger(ctx, e.logger)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("code", shared.CodeOf(err)),
		zap.Error(err),
	}
	if shared.IsBusinessError(err) {
		log.Info("Inventory operation rejected", fields...)
		return
	}
	log.Error("Inventory operation failed", fields...)
}

// publish sends the events of committed entries. Failures are logged and
// counted; the journal reconciler redelivers them.
func (e *Engine) publish(ctx context.Context, entries []*inventory.InventoryTransaction) {
	if e.publisher == nil {
		return
	}
	events := inventory.BuildEvents(entries)
	if len(events) == 0 {
		return
	}
	domainEvents := make([]shared.DomainEvent, len(events))
	for i, ev := range events {
		domainEvents[i] = ev
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PublishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, domainEvents...); err != nil {
		for _, ev := range events {
			e.metrics.RecordPublishFailure(ctx, ev.EventType())
		}
		e.logger.Warn("Failed to publish inventory events",
			zap.Int("count", len(events)),
			zap.Int64("first_sequence", events[0].Sequence()),
			zap.Int64("last_sequence", events[len(events)-1].Sequence()),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
