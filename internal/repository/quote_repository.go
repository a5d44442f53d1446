package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"gorm.io/gorm"
)

type QuoteRepository struct {
	db *gorm.DB
}

func NewQuoteRepository(db *gorm.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *QuoteRepository) WithTx(tx *gorm.DB) *QuoteRepository {
	return &QuoteRepository{db: tx}
}

func (r *QuoteRepository) Create(ctx context.Context, quote *domain.Quote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *QuoteRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// FindOpenByOpportunity returns the latest draft, sent or accepted quote of an opportunity
func (r *QuoteRepository) FindOpenByOpportunity(ctx context.Context, opportunityID uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	err := r.db.WithContext(ctx).
		Where("opportunity_id = ? AND status IN ?", opportunityID,
			[]domain.QuoteStatus{domain.QuoteStatusDraft, domain.QuoteStatusSent, domain.QuoteStatusAccepted}).
		Order("created_at DESC").
		First(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *QuoteRepository) ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]domain.Quote, error) {
	var quotes []domain.Quote
	err := r.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("created_at DESC").
		Find(&quotes).Error
	return quotes, err
}

// Update writes every column conditionally on the version that was read and
// bumps it. Returns ErrVersionConflict when the row changed in between.
func (r *QuoteRepository) Update(ctx context.Context, quote *domain.Quote) error {
	expected := quote.Version
	quote.Version = expected + 1

	result := r.db.WithContext(ctx).Model(quote).
		Where("version = ?", expected).
		Select("*").Omit("created_at").
		Updates(quote)
	if result.Error != nil {
		quote.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		quote.Version = expected
		return ErrVersionConflict
	}
	return nil
}

// LinkAccount sets the account on every quote of the opportunity that has none
func (r *QuoteRepository) LinkAccount(ctx context.Context, opportunityID, accountID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.Quote{}).
		Where("opportunity_id = ? AND account_id IS NULL", opportunityID).
		Updates(map[string]interface{}{
			"account_id": accountID,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
