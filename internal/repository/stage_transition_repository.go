package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"gorm.io/gorm"
)

// StageTransitionRepository is append-only: there is no update or delete
type StageTransitionRepository struct {
	db *gorm.DB
}

func NewStageTransitionRepository(db *gorm.DB) *StageTransitionRepository {
	return &StageTransitionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *StageTransitionRepository) WithTx(tx *gorm.DB) *StageTransitionRepository {
	return &StageTransitionRepository{db: tx}
}

func (r *StageTransitionRepository) Create(ctx context.Context, transition *domain.StageTransition) error {
	return r.db.WithContext(ctx).Create(transition).Error
}

// ListByEntity returns the history of one record, oldest first
func (r *StageTransitionRepository) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) ([]domain.StageTransition, error) {
	var transitions []domain.StageTransition
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&transitions).Error
	return transitions, err
}

// CountTo counts transitions of a record into the given stage
func (r *StageTransitionRepository) CountTo(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, toStage string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.StageTransition{}).
		Where("entity_type = ? AND entity_id = ? AND to_stage = ?", entityType, entityID, toStage).
		Count(&count).Error
	return count, err
}
