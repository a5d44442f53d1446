package domain_test

import (
	"testing"

	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestDeriveStatusVector_RejectedClientApprovalLocksEverything(t *testing.T) {
	quote := &domain.Quote{
		ClientApproved:        boolPtr(false),
		ClientRejectionReason: "Budget cut",
		InvoiceStatus:         domain.InvoiceStatusNotRequested,
	}

	v := domain.DeriveStatusVector(quote)

	assert.Equal(t, domain.StatusVector{
		domain.StepRejected, domain.StepLocked, domain.StepLocked, domain.StepLocked, domain.StepLocked,
	}, v)
	assert.Equal(t, domain.StepClientRejected, domain.CurrentFinancialStep(quote))
}

func TestDeriveStatusVector_InvoiceIssuedNotSent(t *testing.T) {
	quote := &domain.Quote{
		ClientApproved:      boolPtr(true),
		PaymentConfirmed:    true,
		InvoiceStatus:       domain.InvoiceStatusIssued,
		InvoiceSentToClient: false,
	}

	v := domain.DeriveStatusVector(quote)

	assert.Equal(t, domain.StatusVector{
		domain.StepCompleted, domain.StepCompleted, domain.StepCompleted, domain.StepCompleted, domain.StepActive,
	}, v)
	assert.Equal(t, domain.StepInvoiceSent, domain.CurrentFinancialStep(quote))
}

func TestDeriveStatusVector_FreshQuote(t *testing.T) {
	quote := &domain.Quote{InvoiceStatus: domain.InvoiceStatusNotRequested}

	v := domain.DeriveStatusVector(quote)

	assert.Equal(t, domain.StepActive, v[0])
	for i := 1; i < len(v); i++ {
		assert.Equal(t, domain.StepLocked, v[i])
	}
	assert.Equal(t, domain.StepClientApproval, domain.CurrentFinancialStep(quote))
}

func TestDeriveStatusVector_AllDone(t *testing.T) {
	quote := &domain.Quote{
		ClientApproved:      boolPtr(true),
		PaymentConfirmed:    true,
		InvoiceStatus:       domain.InvoiceStatusIssued,
		InvoiceSentToClient: true,
	}

	for _, s := range domain.DeriveStatusVector(quote) {
		assert.Equal(t, domain.StepCompleted, s)
	}
	assert.Equal(t, domain.StepClosed, domain.CurrentFinancialStep(quote))
}

// Flags set out of order (for example payment confirmed before approval)
// never surface a later step as completed or active.
func TestDeriveStatusVector_MonotoneForAllFlagCombinations(t *testing.T) {
	approvals := []*bool{nil, boolPtr(true), boolPtr(false)}
	invoiceStatuses := []domain.InvoiceStatus{
		domain.InvoiceStatusNotRequested, domain.InvoiceStatusRequested, domain.InvoiceStatusIssued,
	}

	for _, approved := range approvals {
		for _, paid := range []bool{false, true} {
			for _, invoice := range invoiceStatuses {
				for _, sent := range []bool{false, true} {
					quote := &domain.Quote{
						ClientApproved:      approved,
						PaymentConfirmed:    paid,
						InvoiceStatus:       invoice,
						InvoiceSentToClient: sent,
					}
					v := domain.DeriveStatusVector(quote)

					active := 0
					for i, status := range v {
						if status == domain.StepActive {
							active++
						}
						if status != domain.StepActive && status != domain.StepCompleted {
							continue
						}
						for j := 0; j < i; j++ {
							assert.Equal(t, domain.StepCompleted, v[j],
								"step %d is %s while earlier step %d is %s (%+v)", i, status, j, v[j], quote)
						}
					}
					assert.LessOrEqual(t, active, 1, "more than one active step: %v", v)
				}
			}
		}
	}
}

func TestStatusVector_StatusOf(t *testing.T) {
	quote := &domain.Quote{ClientApproved: boolPtr(true), InvoiceStatus: domain.InvoiceStatusNotRequested}
	v := domain.DeriveStatusVector(quote)

	assert.Equal(t, domain.StepCompleted, v.StatusOf(domain.StepClientApproval))
	assert.Equal(t, domain.StepActive, v.StatusOf(domain.StepPaymentConfirmation))
	assert.Equal(t, domain.StepLocked, v.StatusOf(domain.StepInvoiceRequest))
	assert.Equal(t, domain.StepLocked, v.StatusOf(domain.StepClosed))
}
