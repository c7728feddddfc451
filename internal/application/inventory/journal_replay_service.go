package inventory

import (
	"context"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JournalReplayConfig tunes the journal reconciler.
type JournalReplayConfig struct {
	// Name identifies the checkpoint, one per downstream stream.
	Name      string
	BatchSize int
	// Lag keeps the reconciler behind the head of the journal. Journal ids
	// are assigned at insert, so a transaction still in flight may commit a
	// lower id than one already visible. An entry is stamped when its attempt
	// starts and commits within the operation deadline, so Lag must cover two
	// of the longest deadlines before the ids below the checkpoint settle.
	Lag time.Duration
}

// ReplayStats describes one reconciler pass.
type ReplayStats struct {
	Entries    int   `json:"entries"`
	Events     int   `json:"events"`
	Checkpoint int64 `json:"checkpoint"`
}

// JournalReplayService republishes events rebuilt from the journal after a
// persisted checkpoint. Rebuilt events carry the same IDs as the ones
// published at commit time, so consumers drop the duplicates.
type JournalReplayService struct {
	scope       TransactionScope
	checkpoints inventory.ReplayCheckpointStore
	publisher   shared.EventPublisher
	logger      *zap.Logger
	cfg         JournalReplayConfig
	now         func() time.Time
}

// NewJournalReplayService creates a new JournalReplayService
func NewJournalReplayService(
	scope TransactionScope,
	checkpoints inventory.ReplayCheckpointStore,
	publisher shared.EventPublisher,
	logger *zap.Logger,
	cfg JournalReplayConfig,
) *JournalReplayService {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &JournalReplayService{
		scope:       scope,
		checkpoints: checkpoints,
		publisher:   publisher,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetClock replaces the clock the lag is measured against.
func (s *JournalReplayService) SetClock(now func() time.Time) {
	s.now = now
}

// ReplayOnce publishes the next batch of operations and advances the
// checkpoint. The checkpoint does not move when publishing fails.
func (s *JournalReplayService) ReplayOnce(ctx context.Context) (*ReplayStats, error) {
	after, err := s.checkpoints.Load(ctx, s.cfg.Name)
	if err != nil {
		return nil, err
	}
	stats := &ReplayStats{Checkpoint: after}

	journal := s.scope.Reader().Journal()
	until := s.now().UTC().Add(-s.cfg.Lag)
	batch, err := journal.ListAfter(ctx, after, until, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return stats, nil
	}

	var opIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, e := range batch {
		if !seen[e.OperationID] {
			seen[e.OperationID] = true
			opIDs = append(opIDs, e.OperationID)
		}
	}
	groups, err := journal.ListByOperation(ctx, opIDs...)
	if err != nil {
		return nil, err
	}

	// an operation with an entry at or before the checkpoint was published
	// by an earlier pass
	published := make(map[uuid.UUID]bool)
	for _, e := range groups {
		if e.ID <= after {
			published[e.OperationID] = true
		}
	}
	entries := make([]*inventory.InventoryTransaction, 0, len(groups))
	for i := range groups {
		if !published[groups[i].OperationID] {
			entries = append(entries, &groups[i])
		}
	}

	events := inventory.BuildEvents(entries)
	if len(events) > 0 && s.publisher != nil {
		domainEvents := make([]shared.DomainEvent, len(events))
		for i, ev := range events {
			domainEvents[i] = ev
		}
		if err := s.publisher.Publish(ctx, domainEvents...); err != nil {
			s.logger.Warn("Journal replay publish failed",
				zap.Int64("checkpoint", after),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
			return nil, err
		}
	}

	last := batch[len(batch)-1].ID
	if err := s.checkpoints.Save(ctx, s.cfg.Name, last); err != nil {
		return nil, err
	}
	stats.Entries = len(batch)
	stats.Events = len(events)
	stats.Checkpoint = last

	s.logger.Debug("Journal replay pass completed",
		zap.Int64("from", after),
		zap.Int64("to", last),
		zap.Int("events", len(events)),
	)
	return stats, nil
}
