package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"gorm.io/gorm"
)

// ActivityRepository is append-only: there is no update or delete
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *ActivityRepository) WithTx(tx *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: tx}
}

func (r *ActivityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

// ListByOpportunity returns the timeline of an opportunity, newest first
func (r *ActivityRepository) ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]domain.Activity, error) {
	var activities []domain.Activity
	err := r.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("created_at DESC").
		Find(&activities).Error
	return activities, err
}

// CountByType counts activities of one type on an opportunity
func (r *ActivityRepository) CountByType(ctx context.Context, opportunityID uuid.UUID, activityType domain.ActivityType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Activity{}).
		Where("opportunity_id = ? AND activity_type = ?", opportunityID, activityType).
		Count(&count).Error
	return count, err
}
