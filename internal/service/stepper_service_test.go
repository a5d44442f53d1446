package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"github.com/straye-as/salesflow-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAcceptedQuote(t *testing.T, env *testEnv, email string) *domain.Quote {
	t.Helper()
	account := testutil.CreateTestAccount(t, env.db, "Acme", email)
	opp := testutil.CreateTestOpportunity(t, env.db, "Acme", domain.StageApproved, &account.ID)
	return testutil.CreateAcceptedQuote(t, env.db, opp.ID, &account.ID, 15000)
}

func paymentRequest() *domain.ConfirmPaymentRequest {
	return &domain.ConfirmPaymentRequest{
		BankName:       "DNB",
		Amount:         15000,
		PaidAt:         time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
		TransferNumber: "TRX-881",
	}
}

func TestStepperService_FullWalk(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	quote := setupAcceptedQuote(t, env, "billing@acme.com")

	_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
	require.NoError(t, err)

	paid, err := env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, domain.StepInvoiceRequest, paid.Stepper.CurrentStep)

	requested, err := env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{TaxNumber: "NO123"})
	require.NoError(t, err)
	assert.Equal(t, service.InvoiceRequestRef(quote.ID), requested.InvoiceRequestRef)
	require.Len(t, env.requester.requests, 1)
	assert.Equal(t, "Acme", env.requester.requests[0].BillingName)
	assert.Equal(t, 15000.0, env.requester.requests[0].Amount)

	issued, err := env.stepper.ConfirmInvoiceIssued(ctx, testutil.Actor, quote.ID,
		&domain.ConfirmInvoiceIssuedRequest{InvoiceNumber: "INV-2026-7"},
		&service.InvoiceAttachment{Filename: "invoice 7.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
	)
	require.NoError(t, err)
	assert.True(t, issued.HasInvoiceDocument)
	assert.Contains(t, env.documents.files, "invoices/"+quote.ID.String()+"/invoice_7.pdf")

	sent, err := env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
	require.NoError(t, err)
	assert.True(t, sent.InvoiceSentToClient)
	assert.Equal(t, domain.StepClosed, sent.Stepper.CurrentStep)
	for _, step := range sent.Stepper.Steps {
		assert.Equal(t, domain.StepCompleted, step.Status, step.Step)
	}

	require.Len(t, env.sender.deliveries, 1)
	delivery := env.sender.deliveries[0]
	assert.Equal(t, "billing@acme.com", delivery.To)
	assert.Equal(t, "INV-2026-7", delivery.InvoiceNumber)
	require.NotNil(t, delivery.Attachment)
	assert.Equal(t, "invoice_7.pdf", delivery.Attachment.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), delivery.Attachment.Data)

	stored, err := env.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepClosed, stored.FinancialStep)

	var transitions []domain.StageTransition
	require.NoError(t, env.db.Where("entity_id = ? AND pipeline_type = ?", quote.ID, domain.PipelineFinancial).Find(&transitions).Error)
	assert.Len(t, transitions, 5)
	assert.Len(t, env.activitiesOf(t, quote.OpportunityID, domain.ActivityInvoiceSent), 1)
}

func TestStepperService_ClientApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("rejection needs a reason", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "billing@acme.com")

		_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(false), Reason: "  "})
		assert.ErrorIs(t, err, service.ErrValidation)

		stored, err := env.quotes.GetByID(ctx, quote.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.ClientApproved)
		assert.Equal(t, 1, stored.Version)
	})

	t.Run("rejection locks the remaining steps", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "billing@acme.com")

		rejected, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(false), Reason: "Too expensive"})
		require.NoError(t, err)
		assert.Equal(t, domain.StepClientRejected, rejected.Stepper.CurrentStep)
		assert.Equal(t, domain.StepRejected, rejected.Stepper.Steps[0].Status)
		for _, step := range rejected.Stepper.Steps[1:] {
			assert.Equal(t, domain.StepLocked, step.Status)
		}

		_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
		assert.ErrorIs(t, err, service.ErrInvalidState)
		_, err = env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})
}

func TestStepperService_StepOrder(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	quote := setupAcceptedQuote(t, env, "billing@acme.com")

	_, err := env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
	assert.ErrorIs(t, err, service.ErrInvalidState)
	_, err = env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{})
	assert.ErrorIs(t, err, service.ErrInvalidState)
	_, err = env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
	assert.ErrorIs(t, err, service.ErrInvalidState)

	assert.Empty(t, env.requester.requests)
	assert.Empty(t, env.sender.deliveries)

	t.Run("quote must be accepted", func(t *testing.T) {
		draft := &domain.Quote{OpportunityID: quote.OpportunityID, Title: "Draft", Status: domain.QuoteStatusDraft}
		require.NoError(t, env.quotes.Create(ctx, draft))

		_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, draft.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})

	t.Run("unknown quote", func(t *testing.T) {
		_, err := env.stepper.GetStepper(ctx, uuid.New())
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

// walkToSend advances a quote until sending the invoice is the active step
func walkToSend(t *testing.T, env *testEnv, quoteID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quoteID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
	require.NoError(t, err)
	_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quoteID, paymentRequest())
	require.NoError(t, err)
	_, err = env.stepper.RequestInvoice(ctx, testutil.Actor, quoteID, &domain.RequestInvoiceRequest{})
	require.NoError(t, err)
	_, err = env.stepper.ConfirmInvoiceIssued(ctx, testutil.Actor, quoteID, &domain.ConfirmInvoiceIssuedRequest{}, nil)
	require.NoError(t, err)
}

func TestStepperService_SendInvoice(t *testing.T) {
	ctx := context.Background()

	t.Run("failed delivery leaves the quote unsent", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "billing@acme.com")
		walkToSend(t, env, quote.ID)
		env.sender.err = errors.New("smtp: connection refused")

		_, err := env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
		require.Error(t, err)
		var remote *service.RemoteOperationError
		assert.True(t, errors.As(err, &remote))

		stored, err := env.quotes.GetByID(ctx, quote.ID)
		require.NoError(t, err)
		assert.False(t, stored.InvoiceSentToClient)
		assert.Nil(t, stored.InvoiceSentToClientAt)
		assert.Equal(t, domain.StepInvoiceSent, stored.FinancialStep)
		assert.Empty(t, env.activitiesOf(t, quote.OpportunityID, domain.ActivityInvoiceSent))

		env.sender.err = nil
		sent, err := env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
		require.NoError(t, err)
		assert.True(t, sent.InvoiceSentToClient)
	})

	t.Run("account without e-mail needs a recipient", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "")
		walkToSend(t, env, quote.ID)

		_, err := env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
		assert.ErrorIs(t, err, service.ErrValidation)
		assert.Empty(t, env.sender.deliveries)

		_, err = env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{Recipient: "finance@acme.com"})
		require.NoError(t, err)
		require.Len(t, env.sender.deliveries, 1)
		assert.Equal(t, "finance@acme.com", env.sender.deliveries[0].To)
		assert.Nil(t, env.sender.deliveries[0].Attachment)
	})
}

func TestStepperService_RequestInvoiceFailure(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	quote := setupAcceptedQuote(t, env, "billing@acme.com")

	_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
	require.NoError(t, err)
	_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
	require.NoError(t, err)

	env.requester.err = errors.New("erp timeout")
	_, err = env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{})
	assert.ErrorIs(t, err, service.ErrRemoteOperation)

	stored, err := env.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusNotRequested, stored.InvoiceStatus)
	assert.Empty(t, stored.InvoiceRequestRef)
	assert.Equal(t, domain.StepInvoiceRequest, stored.FinancialStep)
}

func TestStepperService_ConfirmPaymentValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(req *domain.ConfirmPaymentRequest)
	}{
		{"missing bank name", func(req *domain.ConfirmPaymentRequest) { req.BankName = "" }},
		{"blank bank name", func(req *domain.ConfirmPaymentRequest) { req.BankName = "   " }},
		{"zero amount", func(req *domain.ConfirmPaymentRequest) { req.Amount = 0 }},
		{"negative amount", func(req *domain.ConfirmPaymentRequest) { req.Amount = -1 }},
		{"zero paid at", func(req *domain.ConfirmPaymentRequest) { req.PaidAt = time.Time{} }},
		{"missing transfer number", func(req *domain.ConfirmPaymentRequest) { req.TransferNumber = "" }},
		{"blank transfer number", func(req *domain.ConfirmPaymentRequest) { req.TransferNumber = " \t " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupServices(t, service.DefaultPolicy())
			quote := setupAcceptedQuote(t, env, "billing@acme.com")
			_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
			require.NoError(t, err)

			before, err := env.quotes.GetByID(ctx, quote.ID)
			require.NoError(t, err)

			req := paymentRequest()
			tt.modify(req)
			_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, req)
			assert.ErrorIs(t, err, service.ErrValidation)

			stored, err := env.quotes.GetByID(ctx, quote.ID)
			require.NoError(t, err)
			assert.False(t, stored.PaymentConfirmed)
			assert.Equal(t, before.Version, stored.Version)
			assert.Equal(t, domain.StepPaymentConfirmation, stored.FinancialStep)
		})
	}
}

func TestStepperService_PartialFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("invoice requested but step not recorded", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "billing@acme.com")
		_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
		require.NoError(t, err)
		_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
		require.NoError(t, err)

		env.requester.afterRequest = func(req service.InvoiceRequest) {
			env.bumpVersion(t, &domain.Quote{}, req.QuoteID)
		}
		_, err = env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrPartialFailure)
		assert.ErrorIs(t, err, service.ErrConflict)
		var partial *service.PartialFailureError
		require.True(t, errors.As(err, &partial))
		assert.Equal(t, []string{"invoice_requested"}, partial.Completed)
		require.Len(t, env.requester.requests, 1)

		stored, err := env.quotes.GetByID(ctx, quote.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceStatusNotRequested, stored.InvoiceStatus)
		assert.Empty(t, stored.InvoiceRequestRef)
		assert.Equal(t, domain.StepInvoiceRequest, stored.FinancialStep)

		env.requester.afterRequest = nil
		retried, err := env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{})
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceStatusRequested, retried.InvoiceStatus)
		require.Len(t, env.requester.requests, 2)
		assert.Equal(t, env.requester.requests[0].QuoteID, env.requester.requests[1].QuoteID)
		assert.Equal(t, service.InvoiceRequestRef(quote.ID), retried.InvoiceRequestRef)
	})

	t.Run("invoice sent but step not recorded", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		quote := setupAcceptedQuote(t, env, "billing@acme.com")
		walkToSend(t, env, quote.ID)

		env.sender.afterSend = func(delivery service.InvoiceDelivery) {
			env.bumpVersion(t, &domain.Quote{}, delivery.QuoteID)
		}
		_, err := env.stepper.SendInvoiceToClient(ctx, testutil.Actor, quote.ID, &domain.SendInvoiceRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrPartialFailure)
		var partial *service.PartialFailureError
		require.True(t, errors.As(err, &partial))
		assert.Equal(t, []string{"invoice_sent"}, partial.Completed)
		assert.Len(t, env.sender.deliveries, 1)

		stored, err := env.quotes.GetByID(ctx, quote.ID)
		require.NoError(t, err)
		assert.False(t, stored.InvoiceSentToClient)
		assert.Nil(t, stored.InvoiceSentToClientAt)
		assert.Equal(t, domain.StepInvoiceSent, stored.FinancialStep)
		assert.Empty(t, env.activitiesOf(t, quote.OpportunityID, domain.ActivityInvoiceSent))
	})
}

func TestStepperService_ConfirmInvoiceIssuedConflict(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	quote := setupAcceptedQuote(t, env, "billing@acme.com")

	_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
	require.NoError(t, err)
	_, err = env.stepper.ConfirmPayment(ctx, testutil.Actor, quote.ID, paymentRequest())
	require.NoError(t, err)
	_, err = env.stepper.RequestInvoice(ctx, testutil.Actor, quote.ID, &domain.RequestInvoiceRequest{})
	require.NoError(t, err)

	var stored []string
	env.documents.afterPut = func(key string) {
		stored = append(stored, key)
		env.bumpVersion(t, &domain.Quote{}, quote.ID)
	}
	_, err = env.stepper.ConfirmInvoiceIssued(ctx, testutil.Actor, quote.ID,
		&domain.ConfirmInvoiceIssuedRequest{InvoiceNumber: "INV-2026-8"},
		&service.InvoiceAttachment{Filename: "invoice 8.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
	)
	assert.ErrorIs(t, err, service.ErrConflict)
	assert.NotErrorIs(t, err, service.ErrPartialFailure)

	require.Len(t, stored, 1)
	assert.Zero(t, env.documents.count())

	reloaded, err := env.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusRequested, reloaded.InvoiceStatus)
	assert.Empty(t, reloaded.InvoiceDocumentPath)
	assert.Empty(t, reloaded.InvoiceNumber)
}

func TestStepperService_RejectedOpportunity(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, env.db, "Acme", "billing@acme.com")
	opp := testutil.CreateTestOpportunity(t, env.db, "Acme", domain.StageRejected, &account.ID)
	quote := testutil.CreateAcceptedQuote(t, env.db, opp.ID, &account.ID, 15000)

	_, err := env.stepper.RecordClientApproval(ctx, testutil.Actor, quote.ID, &domain.ClientApprovalRequest{Approved: boolPtr(true)})
	assert.ErrorIs(t, err, service.ErrInvalidState)

	stored, err := env.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ClientApproved)
	assert.Equal(t, 1, stored.Version)

	view, err := env.stepper.GetStepper(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepClientApproval, view.CurrentStep)
}
