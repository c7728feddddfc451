package inventory

import (
	"context"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CellExpirer expires the overdue reservations of one cell.
type CellExpirer interface {
	ExpireCell(ctx context.Context, cmd ExpireCommand) (*ExpireResult, error)
}

// ReservationExpirationService sweeps cells whose overdue reservations no
// operation has touched. Expiry itself goes through the engine so that each
// cell is handled in its own transaction with journal entries and events.
type ReservationExpirationService struct {
	ledger    func() inventory.ReservationLedger
	expirer   CellExpirer
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

// NewReservationExpirationService creates a new ReservationExpirationService
func NewReservationExpirationService(
	scope TransactionScope,
	expirer CellExpirer,
	logger *zap.Logger,
	batchSize int,
) *ReservationExpirationService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReservationExpirationService{
		ledger:    func() inventory.ReservationLedger { return scope.Reader().Reservations() },
		expirer:   expirer,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ExpiredReservationStats contains statistics about one sweep
type ExpiredReservationStats struct {
	CellsScanned        int             `json:"cells_scanned"`
	ReservationsExpired int             `json:"reservations_expired"`
	QuantityReleased    decimal.Decimal `json:"quantity_released"`
	FailedCells         int             `json:"failed_cells"`
	ProcessedAt         time.Time       `json:"processed_at"`
}

// ExpireOverdue finds up to one batch of cells holding overdue Active
// reservations and expires them cell by cell. A failing cell is logged and
// skipped; the next sweep picks it up again.
func (s *ReservationExpirationService) ExpireOverdue(ctx context.Context) (*ExpiredReservationStats, error) {
	now := s.now().UTC()
	stats := &ExpiredReservationStats{
		QuantityReleased: decimal.Zero,
		ProcessedAt:      now,
	}

	cells, err := s.ledger().FindOverdueCells(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to find cells with overdue reservations", zap.Error(err))
		return nil, err
	}
	stats.CellsScanned = len(cells)
	if len(cells) == 0 {
		s.logger.Debug("No overdue reservations found")
		return stats, nil
	}

	for _, cell := range cells {
		res, err := s.expirer.ExpireCell(ctx, ExpireCommand{Cell: cell})
		if err != nil {
			s.logger.Error("Failed to expire reservations",
				zap.String("item_id", cell.ItemID),
				zap.String("location_id", cell.LocationID),
				zap.Error(err),
			)
			stats.FailedCells++
			continue
		}
		stats.ReservationsExpired += res.Expired
		stats.QuantityReleased = stats.QuantityReleased.Add(res.Quantity)
	}

	s.logger.Info("Completed overdue reservation sweep",
		zap.Int("cells", stats.CellsScanned),
		zap.Int("expired", stats.ReservationsExpired),
		zap.String("quantity", stats.QuantityReleased.String()),
		zap.Int("failed", stats.FailedCells),
	)
	return stats, nil
}
