package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/logger"
	"github.com/straye-as/salesflow-api/internal/mapper"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentStore keeps issued invoice documents
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, data io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// StepperService performs the actions of the financial close-out of an
// accepted quote. Every action requires its step to be the active one.
type StepperService struct {
	db        *gorm.DB
	quotes    *repository.QuoteRepository
	opps      *repository.OpportunityRepository
	orgs      *repository.OrganizationRepository
	audit     *AuditService
	invoices  InvoiceRequester
	sender    InvoiceSender
	documents DocumentStore
	logger    *zap.Logger
}

func NewStepperService(
	db *gorm.DB,
	quotes *repository.QuoteRepository,
	opps *repository.OpportunityRepository,
	orgs *repository.OrganizationRepository,
	audit *AuditService,
	invoices InvoiceRequester,
	sender InvoiceSender,
	documents DocumentStore,
	logger *zap.Logger,
) *StepperService {
	return &StepperService{
		db:        db,
		quotes:    quotes,
		opps:      opps,
		orgs:      orgs,
		audit:     audit,
		invoices:  invoices,
		sender:    sender,
		documents: documents,
		logger:    logger,
	}
}

// GetStepper returns the derived five-step view of a quote
func (s *StepperService) GetStepper(ctx context.Context, quoteID uuid.UUID) (*domain.StepperDTO, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, classify("load quote", "quote", quoteID.String(), err)
	}
	dto := mapper.ToStepperDTO(quote)
	return &dto, nil
}

// RecordClientApproval stores the client's decision. A rejection needs a
// reason and ends the financial path of the quote.
func (s *StepperService) RecordClientApproval(ctx context.Context, actor domain.ActorContext, quoteID uuid.UUID, req *domain.ClientApprovalRequest) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if !*req.Approved && reason == "" {
		return nil, NewValidationError("reason", "a reason is required when the client rejects")
	}

	quote, err := s.loadForStep(ctx, quoteID, domain.StepClientApproval, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	approved := *req.Approved
	quote.ClientApproved = &approved
	quote.ClientApprovalAt = &now
	if !approved {
		quote.ClientRejectionReason = reason
	}

	title := "Client approved the quote"
	if !approved {
		title = "Client rejected the quote"
	}
	payload := domain.ClientApprovalPayload{QuoteID: quote.ID, Approved: approved, Reason: reason}
	if err := s.commitStep(ctx, actor, quote, domain.StepClientApproval, title, reason, payload); err != nil {
		return nil, err
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// ConfirmPayment records the client's bank transfer
func (s *StepperService) ConfirmPayment(ctx context.Context, actor domain.ActorContext, quoteID uuid.UUID, req *domain.ConfirmPaymentRequest) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	req.BankName = strings.TrimSpace(req.BankName)
	req.TransferNumber = strings.TrimSpace(req.TransferNumber)
	if err := validateInput(req); err != nil {
		return nil, err
	}

	quote, err := s.loadForStep(ctx, quoteID, domain.StepPaymentConfirmation, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	paidAt := req.PaidAt.UTC()
	quote.PaymentConfirmed = true
	quote.PaymentStatus = domain.PaymentStatusPaid
	quote.PaymentBankName = req.BankName
	quote.PaymentAmount = req.Amount
	quote.PaymentDate = &paidAt
	quote.PaymentTransferNumber = req.TransferNumber
	quote.PaymentNotes = req.Notes

	payload := domain.PaymentConfirmedPayload{
		QuoteID:        quote.ID,
		BankName:       req.BankName,
		Amount:         req.Amount,
		PaidAt:         paidAt,
		TransferNumber: req.TransferNumber,
	}
	description := fmt.Sprintf("%.2f via %s (%s)", req.Amount, req.BankName, req.TransferNumber)
	if err := s.commitStep(ctx, actor, quote, domain.StepPaymentConfirmation, "Payment confirmed", description, payload); err != nil {
		return nil, err
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// RequestInvoice forwards the invoice request to the invoicing system and
// stores its reference
func (s *StepperService) RequestInvoice(ctx context.Context, actor domain.ActorContext, quoteID uuid.UUID, req *domain.RequestInvoiceRequest) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}

	quote, err := s.loadForStep(ctx, quoteID, domain.StepInvoiceRequest, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	account, err := s.accountFor(ctx, quote)
	if err != nil {
		return nil, err
	}

	invoiceReq := InvoiceRequest{
		QuoteID:       quote.ID,
		OpportunityID: quote.OpportunityID,
		AccountID:     quote.AccountID,
		Amount:        quote.TotalAmount,
		BillingName:   strings.TrimSpace(req.BillingName),
		TaxNumber:     strings.TrimSpace(req.TaxNumber),
		Notes:         req.Notes,
		RequestedBy:   actor,
	}
	if account != nil {
		invoiceReq.AccountID = &account.ID
		invoiceReq.AccountName = account.Name
		if invoiceReq.BillingName == "" {
			invoiceReq.BillingName = account.Name
		}
	}

	ref, err := s.invoices.RequestInvoice(ctx, invoiceReq)
	if err != nil {
		s.logger.Error("Invoice request failed", zap.String("quote_id", quote.ID.String()), zap.Error(err))
		return nil, &RemoteOperationError{Operation: "request invoice", Err: err}
	}

	quote.InvoiceStatus = domain.InvoiceStatusRequested
	quote.InvoiceRequestRef = ref

	payload := domain.InvoiceRequestedPayload{QuoteID: quote.ID, RequestRef: ref}
	if err := s.commitStep(ctx, actor, quote, domain.StepInvoiceRequest, "Invoice requested", "Reference "+ref, payload); err != nil {
		return nil, s.partial("request invoice", "invoice_requested", quote.ID, err)
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// ConfirmInvoiceIssued attests that the invoice exists. The optional document
// is stored and attached when the invoice is sent.
func (s *StepperService) ConfirmInvoiceIssued(ctx context.Context, actor domain.ActorContext, quoteID uuid.UUID, req *domain.ConfirmInvoiceIssuedRequest, document *InvoiceAttachment) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if document != nil {
		if s.documents == nil {
			return nil, NewValidationError("document", "document storage is not configured")
		}
		if len(document.Data) == 0 {
			return nil, NewValidationError("document", "the invoice document is empty")
		}
	}

	quote, err := s.loadForStep(ctx, quoteID, domain.StepInvoiceIssued, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	var key string
	if document != nil {
		key = invoiceDocumentKey(quote.ID, document.Filename)
		if _, err := s.documents.Put(ctx, key, document.ContentType, bytes.NewReader(document.Data)); err != nil {
			s.logger.Error("Failed to store invoice document", zap.String("quote_id", quote.ID.String()), zap.Error(err))
			return nil, &RemoteOperationError{Operation: "store invoice document", Err: err}
		}
		quote.InvoiceDocumentPath = key
	}

	now := nowUTC()
	quote.InvoiceStatus = domain.InvoiceStatusIssued
	quote.InvoiceIssuedAt = &now
	if n := strings.TrimSpace(req.InvoiceNumber); n != "" {
		quote.InvoiceNumber = n
	}

	payload := domain.InvoiceIssuedPayload{QuoteID: quote.ID, InvoiceNumber: quote.InvoiceNumber, DocumentPath: key}
	if err := s.commitStep(ctx, actor, quote, domain.StepInvoiceIssued, "Invoice issued", quote.InvoiceNumber, payload); err != nil {
		if key != "" {
			if derr := s.documents.Delete(ctx, key); derr != nil {
				s.logger.Warn("Failed to remove orphaned invoice document", zap.String("key", key), zap.Error(derr))
			}
		}
		return nil, err
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// SendInvoiceToClient e-mails the invoice and only then records the send.
// A failed delivery leaves the quote untouched.
func (s *StepperService) SendInvoiceToClient(ctx context.Context, actor domain.ActorContext, quoteID uuid.UUID, req *domain.SendInvoiceRequest) (*domain.QuoteDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}

	quote, err := s.loadForStep(ctx, quoteID, domain.StepInvoiceSent, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	account, err := s.accountFor(ctx, quote)
	if err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" && account != nil {
		recipient = account.ContactEmail
	}
	if recipient == "" {
		return nil, NewValidationError("recipient", "the account has no contact e-mail; provide a recipient")
	}

	delivery := InvoiceDelivery{
		To:            recipient,
		QuoteID:       quote.ID,
		QuoteTitle:    quote.Title,
		InvoiceNumber: quote.InvoiceNumber,
		Amount:        quote.TotalAmount,
	}
	if account != nil {
		delivery.AccountName = account.Name
	}
	if quote.InvoiceDocumentPath != "" && s.documents != nil {
		attachment, err := s.loadDocument(ctx, quote)
		if err != nil {
			return nil, err
		}
		delivery.Attachment = attachment
	}

	if err := s.sender.SendInvoice(ctx, delivery); err != nil {
		logger.WithActor(s.logger, actor).Error("Invoice delivery failed",
			zap.String("quote_id", quote.ID.String()),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return nil, &RemoteOperationError{Operation: "send invoice to client", Err: err}
	}

	now := nowUTC()
	quote.InvoiceSentToClient = true
	quote.InvoiceSentToClientAt = &now

	payload := domain.InvoiceSentPayload{QuoteID: quote.ID, Recipient: recipient}
	if err := s.commitStep(ctx, actor, quote, domain.StepInvoiceSent, "Invoice sent to client", "Sent to "+recipient, payload); err != nil {
		return nil, s.partial("send invoice to client", "invoice_sent", quote.ID, err)
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// loadForStep loads an accepted quote of a non-rejected opportunity whose
// active step is step
func (s *StepperService) loadForStep(ctx context.Context, quoteID uuid.UUID, step domain.FinancialStep, expectedVersion *int) (*domain.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, classify("load quote", "quote", quoteID.String(), err)
	}
	if quote.Status != domain.QuoteStatusAccepted {
		return nil, &NotFoundError{Entity: "quote", ID: quoteID.String(), State: fmt.Sprintf("financial steps require an accepted quote, status is %s", quote.Status)}
	}
	opp, err := s.opps.GetByID(ctx, quote.OpportunityID)
	if err != nil {
		return nil, classify("load opportunity", "opportunity", quote.OpportunityID.String(), err)
	}
	if opp.Stage == domain.StageRejected {
		return nil, &NotFoundError{Entity: "quote", ID: quoteID.String(), State: "the opportunity of this quote was rejected"}
	}
	if err := checkVersion("quote", quoteID.String(), quote.Version, expectedVersion); err != nil {
		return nil, err
	}
	if status := domain.DeriveStatusVector(quote).StatusOf(step); status != domain.StepActive {
		return nil, &NotFoundError{Entity: "quote", ID: quoteID.String(), State: fmt.Sprintf("step %s is %s", step, status)}
	}
	return quote, nil
}

// commitStep persists the mutated flags together with the step's
// StageTransition and Activity
func (s *StepperService) commitStep(ctx context.Context, actor domain.ActorContext, quote *domain.Quote, step domain.FinancialStep, title, description string, payload domain.ActivityPayload) error {
	quote.FinancialStep = domain.CurrentFinancialStep(quote)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.quotes.WithTx(tx).Update(ctx, quote); err != nil {
			return err
		}
		audit := s.audit.WithTx(tx)
		if _, err := audit.RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityQuote,
			EntityID:     quote.ID,
			PipelineType: domain.PipelineFinancial,
			FromStage:    string(step),
			ToStage:      string(quote.FinancialStep),
			Reason:       quote.ClientRejectionReason,
			Notes:        description,
		}); err != nil {
			return err
		}
		_, err := audit.RecordActivity(ctx, actor, quote.OpportunityID, title, description, payload)
		return err
	})
	if err != nil {
		return classify("record "+string(step), "quote", quote.ID.String(), err)
	}

	s.logger.Info("Financial step completed",
		zap.String("quote_id", quote.ID.String()),
		zap.String("step", string(step)),
		zap.String("current_step", string(quote.FinancialStep)),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

// partial reports a commit failure after the collaborator already acted
func (s *StepperService) partial(operation, completed string, quoteID uuid.UUID, err error) error {
	s.logger.Error("External step done but not recorded",
		zap.String("quote_id", quoteID.String()),
		zap.String("completed", completed),
		zap.Error(err),
	)
	return &PartialFailureError{Operation: operation, Completed: []string{completed}, Err: err}
}

// accountFor resolves the quote's account, falling back to the opportunity's
func (s *StepperService) accountFor(ctx context.Context, quote *domain.Quote) (*domain.Organization, error) {
	accountID := quote.AccountID
	if accountID == nil {
		opp, err := s.opps.GetByID(ctx, quote.OpportunityID)
		if err != nil {
			return nil, classify("load opportunity", "opportunity", quote.OpportunityID.String(), err)
		}
		accountID = opp.AccountID
	}
	if accountID == nil {
		return nil, nil
	}
	org, err := s.orgs.GetByID(ctx, *accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify("load account", "account", accountID.String(), err)
	}
	return org, nil
}

func (s *StepperService) loadDocument(ctx context.Context, quote *domain.Quote) (*InvoiceAttachment, error) {
	rc, err := s.documents.Get(ctx, quote.InvoiceDocumentPath)
	if err != nil {
		return nil, &RemoteOperationError{Operation: "load invoice document", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &RemoteOperationError{Operation: "read invoice document", Err: err}
	}
	return &InvoiceAttachment{
		Filename:    path.Base(quote.InvoiceDocumentPath),
		ContentType: contentTypeFor(quote.InvoiceDocumentPath),
		Data:        data,
	}, nil
}

func invoiceDocumentKey(quoteID uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "invoice.pdf"
	}
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("invoices/%s/%s", quoteID, name)
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
