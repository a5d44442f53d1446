package main

import (
	"context"
	"time"

	"github.com/straye-as/salesflow-api/internal/erp"
	"github.com/straye-as/salesflow-api/internal/notify"
	"github.com/straye-as/salesflow-api/internal/service"
)

// erpInvoiceAdapter stages invoice requests in the ERP so the services stay
// independent of the ERP client
type erpInvoiceAdapter struct {
	client *erp.Client
}

func (a *erpInvoiceAdapter) RequestInvoice(ctx context.Context, req service.InvoiceRequest) (string, error) {
	return a.client.SubmitInvoiceRequest(ctx, erp.InvoiceRequest{
		RequestRef:      service.InvoiceRequestRef(req.QuoteID),
		QuoteID:         req.QuoteID,
		OpportunityID:   req.OpportunityID,
		AccountID:       req.AccountID,
		AccountName:     req.AccountName,
		BillingName:     req.BillingName,
		TaxNumber:       req.TaxNumber,
		Amount:          req.Amount,
		Notes:           req.Notes,
		RequestedBy:     req.RequestedBy.ID,
		RequestedByName: req.RequestedBy.Name,
		RequestedAt:     time.Now().UTC(),
	})
}

// emailInvoiceAdapter delivers invoices through the SMTP sender
type emailInvoiceAdapter struct {
	sender *notify.EmailSender
}

func (a *emailInvoiceAdapter) SendInvoice(ctx context.Context, d service.InvoiceDelivery) error {
	inv := notify.Invoice{
		To:            d.To,
		AccountName:   d.AccountName,
		QuoteID:       d.QuoteID,
		QuoteTitle:    d.QuoteTitle,
		InvoiceNumber: d.InvoiceNumber,
		Amount:        d.Amount,
	}
	if d.Attachment != nil {
		inv.Attachment = &notify.Attachment{
			Filename:    d.Attachment.Filename,
			ContentType: d.Attachment.ContentType,
			Data:        d.Attachment.Data,
		}
	}
	return a.sender.SendInvoice(ctx, inv)
}
