package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
)

// QuoteDraft is handed to the quote builder when an opportunity moves to proposal_sent
type QuoteDraft struct {
	OpportunityID uuid.UUID
	AccountID     *uuid.UUID
	Title         string
	TotalAmount   float64
	Actor         domain.ActorContext
}

// QuoteBuilder creates a quote for an opportunity and returns its id
type QuoteBuilder interface {
	CreateQuote(ctx context.Context, draft QuoteDraft) (uuid.UUID, error)
}

// InvoiceRequest is forwarded to the invoicing system. QuoteID doubles as the
// idempotency key: repeating a request returns the original reference.
type InvoiceRequest struct {
	QuoteID       uuid.UUID
	OpportunityID uuid.UUID
	AccountID     *uuid.UUID
	AccountName   string
	Amount        float64
	BillingName   string
	TaxNumber     string
	Notes         string
	RequestedBy   domain.ActorContext
}

// InvoiceRequester submits invoice requests and returns the request reference
type InvoiceRequester interface {
	RequestInvoice(ctx context.Context, req InvoiceRequest) (string, error)
}

// InvoiceAttachment is an issued invoice document
type InvoiceAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// InvoiceDelivery is one e-mail to the client with the invoice
type InvoiceDelivery struct {
	To            string
	AccountName   string
	QuoteID       uuid.UUID
	QuoteTitle    string
	InvoiceNumber string
	Amount        float64
	Attachment    *InvoiceAttachment
}

// InvoiceSender delivers invoices synchronously; a nil error means the
// delivery was accepted by the transport
type InvoiceSender interface {
	SendInvoice(ctx context.Context, delivery InvoiceDelivery) error
}

// LocalQuoteBuilder persists a draft quote in the engine's own quotes table
type LocalQuoteBuilder struct {
	quotes *repository.QuoteRepository
	logger *zap.Logger
}

func NewLocalQuoteBuilder(quotes *repository.QuoteRepository, logger *zap.Logger) *LocalQuoteBuilder {
	return &LocalQuoteBuilder{quotes: quotes, logger: logger}
}

func (b *LocalQuoteBuilder) CreateQuote(ctx context.Context, draft QuoteDraft) (uuid.UUID, error) {
	quote := &domain.Quote{
		OpportunityID: draft.OpportunityID,
		AccountID:     draft.AccountID,
		Title:         draft.Title,
		Status:        domain.QuoteStatusDraft,
		TotalAmount:   draft.TotalAmount,
		PaymentStatus: domain.PaymentStatusUnpaid,
		InvoiceStatus: domain.InvoiceStatusNotRequested,
	}
	if err := b.quotes.Create(ctx, quote); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create draft quote: %w", err)
	}
	b.logger.Info("Draft quote created",
		zap.String("quote_id", quote.ID.String()),
		zap.String("opportunity_id", draft.OpportunityID.String()),
		zap.String("created_by", draft.Actor.ID),
	)
	return quote.ID, nil
}

// LocalInvoiceRequester issues deterministic references when no ERP is connected
type LocalInvoiceRequester struct {
	logger *zap.Logger
}

func NewLocalInvoiceRequester(logger *zap.Logger) *LocalInvoiceRequester {
	return &LocalInvoiceRequester{logger: logger}
}

func (r *LocalInvoiceRequester) RequestInvoice(ctx context.Context, req InvoiceRequest) (string, error) {
	ref := InvoiceRequestRef(req.QuoteID)
	r.logger.Info("Invoice request recorded locally",
		zap.String("quote_id", req.QuoteID.String()),
		zap.String("request_ref", ref),
	)
	return ref, nil
}

// InvoiceRequestRef derives the stable request reference for a quote
func InvoiceRequestRef(quoteID uuid.UUID) string {
	compact := strings.ToUpper(strings.ReplaceAll(quoteID.String(), "-", ""))
	return "IR-" + compact[:12]
}
