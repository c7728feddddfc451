package persistence

import (
	"context"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormJournal implements the append-only Journal using GORM
type GormJournal struct {
	db *gorm.DB
}

// NewGormJournal creates a new GormJournal
func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db}
}

// WithTx returns a journal bound to the given transaction
func (j *GormJournal) WithTx(tx *gorm.DB) *GormJournal {
	return &GormJournal{db: tx}
}

// Append inserts the entry and copies the assigned id back onto it.
func (j *GormJournal) Append(ctx context.Context, entry *inventory.InventoryTransaction) error {
	model := models.InventoryTransactionModelFromDomain(entry)
	model.ID = 0
	if err := j.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err)
	}
	entry.ID = model.ID
	return nil
}

// ListByCell returns the latest limit entries of a cell, oldest first.
func (j *GormJournal) ListByCell(ctx context.Context, cell inventory.Cell, limit int) ([]inventory.InventoryTransaction, error) {
	query := j.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ?", cell.ItemID, cell.LocationID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.InventoryTransactionModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	// reverse to ascending
	for i, k := 0, len(rows)-1; i < k; i, k = i+1, k-1 {
		rows[i], rows[k] = rows[k], rows[i]
	}
	return toEntries(rows)
}

// ListByRef returns the entries of an external cause in id order.
func (j *GormJournal) ListByRef(ctx context.Context, ref inventory.Ref) ([]inventory.InventoryTransaction, error) {
	var rows []models.InventoryTransactionModel
	if err := j.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", ref.Type, ref.ID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	return toEntries(rows)
}

// ListByOperation returns the entries of the given operations in id order.
func (j *GormJournal) ListByOperation(ctx context.Context, operationIDs ...uuid.UUID) ([]inventory.InventoryTransaction, error) {
	if len(operationIDs) == 0 {
		return nil, nil
	}
	var rows []models.InventoryTransactionModel
	if err := j.db.WithContext(ctx).
		Where("operation_id IN ?", operationIDs).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	return toEntries(rows)
}

// ListAfter pages through the journal for replay.
func (j *GormJournal) ListAfter(ctx context.Context, afterID int64, until time.Time, limit int) ([]inventory.InventoryTransaction, error) {
	query := j.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.InventoryTransactionModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	for i := range rows {
		if rows[i].OccurredAt.After(until) {
			rows = rows[:i]
			break
		}
	}
	return toEntries(rows)
}

func toEntries(rows []models.InventoryTransactionModel) ([]inventory.InventoryTransaction, error) {
	entries := make([]inventory.InventoryTransaction, 0, len(rows))
	for i := range rows {
		e, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// Ensure GormJournal implements Journal
var _ inventory.Journal = (*GormJournal)(nil)
