package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"gorm.io/gorm"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *LeadRepository) WithTx(tx *gorm.DB) *LeadRepository {
	return &LeadRepository{db: tx}
}

func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	return r.db.WithContext(ctx).Create(lead).Error
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var lead domain.Lead
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// FindOpenByEmail returns the most recent non-converted lead for an e-mail address
func (r *LeadRepository) FindOpenByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	var lead domain.Lead
	err := r.db.WithContext(ctx).
		Where("LOWER(contact_email) = ? AND is_converted = ?", strings.ToLower(strings.TrimSpace(email)), false).
		Order("created_at DESC").
		First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Update saves all fields of a lead. Leads are last-write-wins.
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	return r.db.WithContext(ctx).Save(lead).Error
}

// MarkConverted flips a lead to converted only if it has not been converted
// yet. Returns ErrConditionFailed when another conversion got there first.
func (r *LeadRepository) MarkConverted(ctx context.Context, id, accountID, opportunityID uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("id = ? AND is_converted = ?", id, false).
		Updates(map[string]interface{}{
			"is_converted":             true,
			"stage":                    domain.LeadStageConverted,
			"converted_to_account_id":  accountID,
			"converted_opportunity_id": opportunityID,
			"converted_at":             at,
			"updated_at":               at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (r *LeadRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Lead{}, "id = ?", id).Error
}

func (r *LeadRepository) List(ctx context.Context, page, pageSize int, filters *domain.LeadFilters) ([]domain.Lead, int64, error) {
	var leads []domain.Lead
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Lead{})
	if filters != nil {
		if filters.Stage != nil {
			query = query.Where("stage = ?", *filters.Stage)
		}
		if filters.IsConverted != nil {
			query = query.Where("is_converted = ?", *filters.IsConverted)
		}
		if s := strings.TrimSpace(filters.Search); s != "" {
			pattern := "%" + strings.ToLower(s) + "%"
			query = query.Where("LOWER(company_name) LIKE ? OR LOWER(contact_name) LIKE ? OR LOWER(contact_email) LIKE ?",
				pattern, pattern, pattern)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&leads).Error
	return leads, total, err
}
