package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"gorm.io/gorm"
)

type OpportunityRepository struct {
	db *gorm.DB
}

func NewOpportunityRepository(db *gorm.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *OpportunityRepository) WithTx(tx *gorm.DB) *OpportunityRepository {
	return &OpportunityRepository{db: tx}
}

func (r *OpportunityRepository) Create(ctx context.Context, opp *domain.Opportunity) error {
	return r.db.WithContext(ctx).Create(opp).Error
}

func (r *OpportunityRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&opp).Error
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

// GetByLeadID returns the opportunity a lead was converted into
func (r *OpportunityRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).First(&opp).Error
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

// Update writes every column conditionally on the version that was read and
// bumps it. Returns ErrVersionConflict when the row changed in between.
func (r *OpportunityRepository) Update(ctx context.Context, opp *domain.Opportunity) error {
	expected := opp.Version
	opp.Version = expected + 1

	result := r.db.WithContext(ctx).Model(opp).
		Where("version = ?", expected).
		Select("*").Omit("created_at").
		Updates(opp)
	if result.Error != nil {
		opp.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		opp.Version = expected
		return ErrVersionConflict
	}
	return nil
}

func (r *OpportunityRepository) List(ctx context.Context, page, pageSize int, filters *domain.OpportunityFilters) ([]domain.Opportunity, int64, error) {
	var opps []domain.Opportunity
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Opportunity{})
	if filters != nil {
		if filters.Stage != nil {
			query = query.Where("stage = ?", *filters.Stage)
		}
		if filters.Status != nil {
			query = query.Where("status = ?", *filters.Status)
		}
		if filters.AccountID != nil {
			query = query.Where("account_id = ?", *filters.AccountID)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("updated_at DESC").Offset(offset).Limit(pageSize).Find(&opps).Error
	return opps, total, err
}
