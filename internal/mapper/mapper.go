package mapper

import (
	"github.com/straye-as/salesflow-api/internal/domain"
)

// ToLeadDTO converts Lead to LeadDTO
func ToLeadDTO(lead *domain.Lead) domain.LeadDTO {
	return domain.LeadDTO{
		ID:                     lead.ID,
		CompanyName:            lead.CompanyName,
		ContactName:            lead.ContactName,
		ContactEmail:           lead.ContactEmail,
		ContactPhone:           lead.ContactPhone,
		LeadSource:             lead.LeadSource,
		ServiceType:            lead.ServiceType,
		Notes:                  lead.Notes,
		Stage:                  lead.Stage,
		IsConverted:            lead.IsConverted,
		ConvertedToAccountID:   lead.ConvertedToAccountID,
		ConvertedOpportunityID: lead.ConvertedOpportunityID,
		ConvertedAt:            lead.ConvertedAt,
		CreatedAt:              lead.CreatedAt,
		UpdatedAt:              lead.UpdatedAt,
	}
}

// ToOpportunityDTO converts Opportunity to OpportunityDTO
func ToOpportunityDTO(opp *domain.Opportunity) domain.OpportunityDTO {
	return domain.OpportunityDTO{
		ID:                opp.ID,
		Name:              opp.Name,
		LeadID:            opp.LeadID,
		AccountID:         opp.AccountID,
		Stage:             opp.Stage,
		Status:            opp.Status,
		Probability:       opp.Probability,
		ExpectedValue:     opp.ExpectedValue,
		OpportunityType:   opp.OpportunityType,
		ExpectedCloseDate: opp.ExpectedCloseDate,
		ActualCloseDate:   opp.ActualCloseDate,
		RejectionReason:   opp.RejectionReason,
		SuggestedNext:     domain.SuggestedNextStages(opp.Stage),
		Version:           opp.Version,
		CreatedAt:         opp.CreatedAt,
		UpdatedAt:         opp.UpdatedAt,
	}
}

// ToStepperDTO projects the derived stepper view of a quote
func ToStepperDTO(quote *domain.Quote) domain.StepperDTO {
	vector := domain.DeriveStatusVector(quote)
	steps := make([]domain.StepDTO, len(domain.FinancialSteps))
	for i, step := range domain.FinancialSteps {
		steps[i] = domain.StepDTO{Step: step, Status: vector[i]}
	}
	return domain.StepperDTO{
		Enabled:     quote.Status == domain.QuoteStatusAccepted,
		CurrentStep: domain.CurrentFinancialStep(quote),
		Steps:       steps,
	}
}

// ToQuoteDTO converts Quote to QuoteDTO including the stepper view
func ToQuoteDTO(quote *domain.Quote) domain.QuoteDTO {
	return domain.QuoteDTO{
		ID:                    quote.ID,
		OpportunityID:         quote.OpportunityID,
		AccountID:             quote.AccountID,
		Title:                 quote.Title,
		Status:                quote.Status,
		TotalAmount:           quote.TotalAmount,
		ClientApproved:        quote.ClientApproved,
		ClientRejectionReason: quote.ClientRejectionReason,
		PaymentConfirmed:      quote.PaymentConfirmed,
		PaymentStatus:         quote.PaymentStatus,
		PaymentBankName:       quote.PaymentBankName,
		PaymentAmount:         quote.PaymentAmount,
		PaymentDate:           quote.PaymentDate,
		PaymentTransferNumber: quote.PaymentTransferNumber,
		InvoiceStatus:         quote.InvoiceStatus,
		InvoiceRequestRef:     quote.InvoiceRequestRef,
		InvoiceNumber:         quote.InvoiceNumber,
		HasInvoiceDocument:    quote.InvoiceDocumentPath != "",
		InvoiceSentToClient:   quote.InvoiceSentToClient,
		InvoiceSentToClientAt: quote.InvoiceSentToClientAt,
		Stepper:               ToStepperDTO(quote),
		Version:               quote.Version,
		CreatedAt:             quote.CreatedAt,
		UpdatedAt:             quote.UpdatedAt,
	}
}

// ToOrganizationDTO converts Organization to OrganizationDTO
func ToOrganizationDTO(org *domain.Organization) domain.OrganizationDTO {
	return domain.OrganizationDTO{
		ID:                 org.ID,
		Name:               org.Name,
		ContactEmail:       org.ContactEmail,
		ContactPhone:       org.ContactPhone,
		LifecycleStage:     org.LifecycleStage,
		SubscriptionStatus: org.SubscriptionStatus,
		CustomerType:       org.CustomerType,
		IsActive:           org.IsActive,
		CreatedAt:          org.CreatedAt,
		UpdatedAt:          org.UpdatedAt,
	}
}

// ToStageTransitionDTO converts StageTransition to StageTransitionDTO
func ToStageTransitionDTO(t *domain.StageTransition) domain.StageTransitionDTO {
	return domain.StageTransitionDTO{
		ID:              t.ID,
		EntityType:      t.EntityType,
		EntityID:        t.EntityID,
		PipelineType:    t.PipelineType,
		FromStage:       t.FromStage,
		ToStage:         t.ToStage,
		Reason:          t.Reason,
		Notes:           t.Notes,
		PerformedBy:     t.PerformedBy,
		PerformedByName: t.PerformedByName,
		CreatedAt:       t.CreatedAt,
	}
}

// ToActivityDTO converts Activity to ActivityDTO. A payload that fails to
// decode is omitted rather than failing the whole timeline.
func ToActivityDTO(a *domain.Activity) domain.ActivityDTO {
	dto := domain.ActivityDTO{
		ID:              a.ID,
		OpportunityID:   a.OpportunityID,
		ActivityType:    a.ActivityType,
		Title:           a.Title,
		Description:     a.Description,
		PerformedBy:     a.PerformedBy,
		PerformedByName: a.PerformedByName,
		CreatedAt:       a.CreatedAt,
	}
	if payload, err := a.Payload(); err == nil {
		dto.Payload = payload
	}
	return dto
}
