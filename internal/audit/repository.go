package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Repository interface {
	BatchInsert(ctx context.Context, batch []*SessionEvent) error
	Recent(ctx context.Context, limit int) ([]SessionEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// BatchInsert writes the whole batch in one transaction.
func (r *gormRepository) BatchInsert(ctx context.Context, batch []*SessionEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(batch, 500).Error; err != nil {
		return fmt.Errorf("failed to insert session events: %w", err)
	}
	return nil
}

func (r *gormRepository) Recent(ctx context.Context, limit int) ([]SessionEvent, error) {
	var events []SessionEvent
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
