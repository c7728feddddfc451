package scheduler

import (
	"context"
	"fmt"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"go.uber.org/zap"
)

// Job names
const (
	JobReservationSweeper = "reservation-sweeper"
	JobJournalReconciler  = "journal-reconciler"
)

// maxPassesPerRun caps how many batches one run drains, so a large backlog
// cannot hold a run past its timeout.
const maxPassesPerRun = 20

// OverdueSweeper expires overdue reservations one batch at a time
type OverdueSweeper interface {
	ExpireOverdue(ctx context.Context) (*appinv.ExpiredReservationStats, error)
}

// JournalReplayer republishes one batch of journal operations
type JournalReplayer interface {
	ReplayOnce(ctx context.Context) (*appinv.ReplayStats, error)
}

// SweeperJob drains cells with overdue reservations
type SweeperJob struct {
	sweeper   OverdueSweeper
	batchSize int
	logger    *zap.Logger
}

// NewSweeperJob creates the job. batchSize must match the sweeper's.
func NewSweeperJob(sweeper OverdueSweeper, batchSize int, logger *zap.Logger) *SweeperJob {
	return &SweeperJob{sweeper: sweeper, batchSize: batchSize, logger: logger}
}

// Name returns JobReservationSweeper
func (j *SweeperJob) Name() string { return JobReservationSweeper }

// Run sweeps until a batch comes back short
func (j *SweeperJob) Run(ctx context.Context) error {
	var expired, failed int
	for pass := 0; pass < maxPassesPerRun; pass++ {
		stats, err := j.sweeper.ExpireOverdue(ctx)
		if err != nil {
			return fmt.Errorf("sweep overdue reservations: %w", err)
		}
		expired += stats.ReservationsExpired
		failed += stats.FailedCells
		// failed cells stay overdue; looping would pick them straight up again
		if stats.CellsScanned < j.batchSize || stats.FailedCells > 0 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if expired > 0 || failed > 0 {
		j.logger.Info("Reservation sweep finished", zap.Int("expired", expired), zap.Int("failed_cells", failed))
	}
	return nil
}

// ReconcilerJob replays the journal until it reaches the lag horizon
type ReconcilerJob struct {
	replayer  JournalReplayer
	batchSize int
	logger    *zap.Logger
}

// NewReconcilerJob creates the job. batchSize must match the replayer's.
func NewReconcilerJob(replayer JournalReplayer, batchSize int, logger *zap.Logger) *ReconcilerJob {
	return &ReconcilerJob{replayer: replayer, batchSize: batchSize, logger: logger}
}

// Name returns JobJournalReconciler
func (j *ReconcilerJob) Name() string { return JobJournalReconciler }

// Run replays batches until one comes back short
func (j *ReconcilerJob) Run(ctx context.Context) error {
	var events int
	var checkpoint int64
	for pass := 0; pass < maxPassesPerRun; pass++ {
		stats, err := j.replayer.ReplayOnce(ctx)
		if err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
		events += stats.Events
		checkpoint = stats.Checkpoint
		if stats.Entries < j.batchSize {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if events > 0 {
		j.logger.Debug("Journal replay finished", zap.Int("events", events), zap.Int64("checkpoint", checkpoint))
	}
	return nil
}
