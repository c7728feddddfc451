package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCheckpointStore persists journal replay positions.
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a new GormCheckpointStore
func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// Load returns the last published journal id for name, or 0.
func (s *GormCheckpointStore) Load(ctx context.Context, name string) (int64, error) {
	var model models.EventCheckpointModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, translateError(err)
	}
	return model.LastID, nil
}

// Save upserts the checkpoint. It never moves a checkpoint backwards.
func (s *GormCheckpointStore) Save(ctx context.Context, name string, lastID int64) error {
	model := models.EventCheckpointModel{Name: name, LastID: lastID, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_id":    gorm.Expr("CASE WHEN excluded.last_id > inventory_event_checkpoint.last_id THEN excluded.last_id ELSE inventory_event_checkpoint.last_id END"),
			"updated_at": model.UpdatedAt,
		}),
	}).Create(&model).Error
	return translateError(err)
}

// Ensure GormCheckpointStore implements ReplayCheckpointStore
var _ inventory.ReplayCheckpointStore = (*GormCheckpointStore)(nil)
