package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var activeStatus = inventory.ReservationActive.String()

// GormReservationLedger implements ReservationLedger using GORM
type GormReservationLedger struct {
	db *gorm.DB
}

// NewGormReservationLedger creates a new GormReservationLedger
func NewGormReservationLedger(db *gorm.DB) *GormReservationLedger {
	return &GormReservationLedger{db: db}
}

// WithTx returns a ledger bound to the given transaction
func (l *GormReservationLedger) WithTx(tx *gorm.DB) *GormReservationLedger {
	return &GormReservationLedger{db: tx}
}

// Create inserts a reservation.
func (l *GormReservationLedger) Create(ctx context.Context, r *inventory.Reservation) error {
	model, err := models.ReservationModelFromDomain(r)
	if err != nil {
		return err
	}
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return &inventory.DuplicateReservationError{RefType: r.RefType, RefID: r.RefID}
		}
		return translateError(err)
	}
	return nil
}

// Consume moves an Active reservation to Consumed.
func (l *GormReservationLedger) Consume(ctx context.Context, id uuid.UUID, now time.Time) error {
	return l.transition(ctx, id, inventory.ReservationConsumed, now)
}

// Release moves an Active reservation to Released.
func (l *GormReservationLedger) Release(ctx context.Context, id uuid.UUID, now time.Time) error {
	return l.transition(ctx, id, inventory.ReservationReleased, now)
}

func (l *GormReservationLedger) transition(ctx context.Context, id uuid.UUID, to inventory.ReservationStatus, now time.Time) error {
	result := l.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Where("id = ? AND status = ?", id, activeStatus).
		Updates(map[string]any{"status": to.String(), "updated_at": now})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	current, err := l.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return &inventory.ReservationNotActiveError{ID: id, ActualStatus: current.Status}
}

// ExpireActiveFor expires the overdue Active reservations of a cell and
// returns them in their new state.
func (l *GormReservationLedger) ExpireActiveFor(ctx context.Context, cell inventory.Cell, now time.Time) ([]inventory.Reservation, error) {
	var rows []models.ReservationModel
	if err := l.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			cell.ItemID, cell.LocationID, activeStatus, now).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	expired := inventory.ReservationExpired.String()
	if err := l.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Where("id IN ? AND status = ?", ids, activeStatus).
		Updates(map[string]any{"status": expired, "updated_at": now}).Error; err != nil {
		return nil, translateError(err)
	}

	out := make([]inventory.Reservation, 0, len(rows))
	for i := range rows {
		rows[i].Status = expired
		rows[i].UpdatedAt = now
		r, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// SumActive totals the Active reservations of a cell.
func (l *GormReservationLedger) SumActive(ctx context.Context, cell inventory.Cell) (decimal.Decimal, error) {
	return l.sum(l.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ? AND status = ?", cell.ItemID, cell.LocationID, activeStatus))
}

// SumOverdue totals the Active reservations of a cell past their deadline.
func (l *GormReservationLedger) SumOverdue(ctx context.Context, cell inventory.Cell, now time.Time) (decimal.Decimal, error) {
	return l.sum(l.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			cell.ItemID, cell.LocationID, activeStatus, now))
}

// sum adds quantities in decimal rather than trusting the driver's SUM
// type, which differs between PostgreSQL and SQLite.
func (l *GormReservationLedger) sum(query *gorm.DB) (decimal.Decimal, error) {
	var rows []struct{ Quantity decimal.Decimal }
	if err := query.Model(&models.ReservationModel{}).Select("quantity").Scan(&rows).Error; err != nil {
		return decimal.Zero, translateError(err)
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Quantity)
	}
	return total, nil
}

// FindByID loads a reservation by id.
func (l *GormReservationLedger) FindByID(ctx context.Context, id uuid.UUID) (*inventory.Reservation, error) {
	var model models.ReservationModel
	if err := l.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &inventory.ReservationNotFoundError{ID: id}
		}
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// FindByRef loads the reservations of an external cause in creation order.
func (l *GormReservationLedger) FindByRef(ctx context.Context, ref inventory.Ref) ([]inventory.Reservation, error) {
	return l.find(l.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", ref.Type, ref.ID).
		Order("created_at ASC, item_id ASC, location_id ASC"))
}

// FindActiveByCell loads the Active reservations of a cell.
func (l *GormReservationLedger) FindActiveByCell(ctx context.Context, cell inventory.Cell) ([]inventory.Reservation, error) {
	return l.find(l.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ? AND status = ?", cell.ItemID, cell.LocationID, activeStatus).
		Order("created_at ASC, id ASC"))
}

func (l *GormReservationLedger) find(query *gorm.DB) ([]inventory.Reservation, error) {
	var rows []models.ReservationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]inventory.Reservation, 0, len(rows))
	for i := range rows {
		r, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// FindOverdueCells lists cells with overdue Active reservations in
// canonical order.
func (l *GormReservationLedger) FindOverdueCells(ctx context.Context, now time.Time, limit int) ([]inventory.Cell, error) {
	query := l.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Distinct("item_id", "location_id").
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", activeStatus, now).
		Order("item_id ASC, location_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var cells []inventory.Cell
	if err := query.Scan(&cells).Error; err != nil {
		return nil, translateError(err)
	}
	return cells, nil
}

// Stats returns count and quantity per status, in status order.
func (l *GormReservationLedger) Stats(ctx context.Context) ([]inventory.ReservationStatusStat, error) {
	var rows []struct {
		Status   string
		Count    int64
		Quantity decimal.Decimal
	}
	if err := l.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(quantity), 0) AS quantity").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	byStatus := make(map[inventory.ReservationStatus]inventory.ReservationStatusStat, len(rows))
	for _, row := range rows {
		status, err := inventory.ParseReservationStatus(row.Status)
		if err != nil {
			return nil, err
		}
		byStatus[status] = inventory.ReservationStatusStat{
			Status:   status,
			Count:    row.Count,
			Quantity: row.Quantity.Round(inventory.QuantityScale),
		}
	}

	stats := make([]inventory.ReservationStatusStat, 0, len(byStatus))
	for _, status := range inventory.AllReservationStatuses() {
		if stat, ok := byStatus[status]; ok {
			stats = append(stats, stat)
		}
	}
	return stats, nil
}

// Ensure GormReservationLedger implements ReservationLedger
var _ inventory.ReservationLedger = (*GormReservationLedger)(nil)
