package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/mapper"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// quoteLifecycle lists the allowed commercial status changes of a quote
var quoteLifecycle = map[domain.QuoteStatus][]domain.QuoteStatus{
	domain.QuoteStatusDraft: {domain.QuoteStatusSent, domain.QuoteStatusExpired},
	domain.QuoteStatusSent:  {domain.QuoteStatusAccepted, domain.QuoteStatusRejected, domain.QuoteStatusExpired},
}

type QuoteService struct {
	db     *gorm.DB
	quotes *repository.QuoteRepository
	opps   *repository.OpportunityRepository
	audit  *AuditService
	logger *zap.Logger
}

func NewQuoteService(
	db *gorm.DB,
	quotes *repository.QuoteRepository,
	opps *repository.OpportunityRepository,
	audit *AuditService,
	logger *zap.Logger,
) *QuoteService {
	return &QuoteService{db: db, quotes: quotes, opps: opps, audit: audit, logger: logger}
}

func (s *QuoteService) GetByID(ctx context.Context, id uuid.UUID) (*domain.QuoteDTO, error) {
	quote, err := s.quotes.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load quote", "quote", id.String(), err)
	}
	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

func (s *QuoteService) ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]domain.QuoteDTO, error) {
	if _, err := s.opps.GetByID(ctx, opportunityID); err != nil {
		return nil, classify("load opportunity", "opportunity", opportunityID.String(), err)
	}
	quotes, err := s.quotes.ListByOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, classify("list quotes", "opportunity", opportunityID.String(), err)
	}
	dtos := make([]domain.QuoteDTO, len(quotes))
	for i := range quotes {
		dtos[i] = mapper.ToQuoteDTO(&quotes[i])
	}
	return dtos, nil
}

// UpdateStatus moves a quote along its commercial lifecycle. Acceptance opens
// the financial stepper at client approval.
func (s *QuoteService) UpdateStatus(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.UpdateQuoteStatusRequest) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if !req.Status.IsValid() {
		return nil, NewValidationError("status", "unknown quote status")
	}

	quote, err := s.quotes.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load quote", "quote", id.String(), err)
	}
	if err := checkVersion("quote", id.String(), quote.Version, req.ExpectedVersion); err != nil {
		return nil, err
	}
	if quote.Status == req.Status {
		return nil, NewValidationError("status", "quote already has this status")
	}
	if !lifecycleAllows(quote.Status, req.Status) {
		return nil, &NotFoundError{Entity: "quote", ID: id.String(), State: fmt.Sprintf("cannot move from %s to %s", quote.Status, req.Status)}
	}

	from := quote.Status
	quote.Status = req.Status
	if req.Status == domain.QuoteStatusAccepted {
		quote.FinancialStep = domain.CurrentFinancialStep(quote)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.quotes.WithTx(tx).Update(ctx, quote); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityQuote,
			EntityID:     quote.ID,
			PipelineType: domain.PipelineQuote,
			FromStage:    string(from),
			ToStage:      string(req.Status),
			Notes:        req.Note,
		})
		return err
	})
	if err != nil {
		return nil, classify("update quote status", "quote", id.String(), err)
	}

	s.logger.Info("Quote status changed",
		zap.String("quote_id", quote.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(req.Status)),
		zap.String("actor_id", actor.ID),
	)
	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

func lifecycleAllows(from, to domain.QuoteStatus) bool {
	for _, allowed := range quoteLifecycle[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
