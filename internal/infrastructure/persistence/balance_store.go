package persistence

import (
	"context"
	"errors"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBalanceStore implements BalanceStore using GORM
type GormBalanceStore struct {
	db *gorm.DB
}

// NewGormBalanceStore creates a new GormBalanceStore
func NewGormBalanceStore(db *gorm.DB) *GormBalanceStore {
	return &GormBalanceStore{db: db}
}

// WithTx returns a store bound to the given transaction
func (s *GormBalanceStore) WithTx(tx *gorm.DB) *GormBalanceStore {
	return &GormBalanceStore{db: tx}
}

// Get reads the balance of a cell without locking.
func (s *GormBalanceStore) Get(ctx context.Context, cell inventory.Cell) (*inventory.Balance, error) {
	var model models.BalanceModel
	err := s.db.WithContext(ctx).
		Where("item_id = ? AND location_id = ?", cell.ItemID, cell.LocationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &inventory.BalanceNotFoundError{ItemID: cell.ItemID, LocationID: cell.LocationID}
		}
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// LockForUpdate inserts a zero row if the cell is new and then selects it
// FOR UPDATE. The insert is a no-op on conflict so concurrent first touches
// of a cell serialize on the row lock rather than failing.
func (s *GormBalanceStore) LockForUpdate(ctx context.Context, cell inventory.Cell) (*inventory.Balance, error) {
	db := s.db.WithContext(ctx)

	zero := models.BalanceModelFromDomain(inventory.NewBalance(cell))
	zero.UpdatedAt = db.NowFunc()
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "location_id"}},
		DoNothing: true,
	}).Create(zero).Error; err != nil {
		return nil, translateError(err)
	}

	var model models.BalanceModel
	if err := db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("item_id = ? AND location_id = ?", cell.ItemID, cell.LocationID).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Put writes the balance guarded by its version and bumps the version on
// both the row and b.
func (s *GormBalanceStore) Put(ctx context.Context, b *inventory.Balance) error {
	if err := b.Validate(); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Model(&models.BalanceModel{}).
		Where("item_id = ? AND location_id = ? AND version = ?", b.ItemID, b.LocationID, b.Version).
		Updates(map[string]any{
			"on_hand":    b.OnHand,
			"allocated":  b.Allocated,
			"available":  b.Available,
			"version":    b.Version + 1,
			"updated_at": b.UpdatedAt,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	b.Version++
	return nil
}

// ListByItem returns every written balance of an item ordered by location.
func (s *GormBalanceStore) ListByItem(ctx context.Context, itemID string) ([]inventory.Balance, error) {
	var rows []models.BalanceModel
	if err := s.db.WithContext(ctx).
		Where("item_id = ? AND version > 0", itemID).
		Order("location_id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	balances := make([]inventory.Balance, len(rows))
	for i := range rows {
		balances[i] = *rows[i].ToDomain()
	}
	return balances, nil
}

// Ensure GormBalanceStore implements BalanceStore
var _ inventory.BalanceStore = (*GormBalanceStore)(nil)
