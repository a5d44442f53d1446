package domain

// FinancialStep is one step of the post-acceptance close-out of a quote
type FinancialStep string

const (
	StepClientApproval      FinancialStep = "client_approval"
	StepPaymentConfirmation FinancialStep = "payment_confirmation"
	StepInvoiceRequest      FinancialStep = "invoice_request"
	StepInvoiceIssued       FinancialStep = "invoice_issued"
	StepInvoiceSent         FinancialStep = "invoice_sent"

	// Projections stored in quotes.financial_step once the path has ended
	StepClosed         FinancialStep = "closed"
	StepClientRejected FinancialStep = "client_rejected"
)

// FinancialSteps is the strict order of the stepper
var FinancialSteps = [5]FinancialStep{
	StepClientApproval,
	StepPaymentConfirmation,
	StepInvoiceRequest,
	StepInvoiceIssued,
	StepInvoiceSent,
}

// StepStatus is the derived state of one stepper step
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepActive    StepStatus = "active"
	StepRejected  StepStatus = "rejected"
	StepLocked    StepStatus = "locked"
)

// StatusVector holds one status per entry of FinancialSteps
type StatusVector [5]StepStatus

type stepState int

const (
	statePending stepState = iota
	stateDone
	stateRejected
)

func stepStateOf(q *Quote, step FinancialStep) stepState {
	switch step {
	case StepClientApproval:
		if q.ClientApproved == nil {
			return statePending
		}
		if *q.ClientApproved {
			return stateDone
		}
		return stateRejected
	case StepPaymentConfirmation:
		if q.PaymentConfirmed {
			return stateDone
		}
	case StepInvoiceRequest:
		if q.InvoiceStatus == InvoiceStatusRequested || q.InvoiceStatus == InvoiceStatusIssued {
			return stateDone
		}
	case StepInvoiceIssued:
		if q.InvoiceStatus == InvoiceStatusIssued {
			return stateDone
		}
	case StepInvoiceSent:
		if q.InvoiceSentToClient {
			return stateDone
		}
	}
	return statePending
}

// DeriveStatusVector computes the stepper view from the quote flags. Steps are
// scanned in order; the first step that is not completed is either active or,
// when its flag records a rejection, rejected. Everything after it is locked.
func DeriveStatusVector(q *Quote) StatusVector {
	var v StatusVector
	blocked := false
	for i, step := range FinancialSteps {
		if blocked {
			v[i] = StepLocked
			continue
		}
		switch stepStateOf(q, step) {
		case stateDone:
			v[i] = StepCompleted
		case stateRejected:
			v[i] = StepRejected
			blocked = true
		default:
			v[i] = StepActive
			blocked = true
		}
	}
	return v
}

// StatusOf returns the status of a single step
func (v StatusVector) StatusOf(step FinancialStep) StepStatus {
	for i, s := range FinancialSteps {
		if s == step {
			return v[i]
		}
	}
	return StepLocked
}

// CurrentFinancialStep returns the actionable step, or the terminal projection
// when the path is rejected or complete
func CurrentFinancialStep(q *Quote) FinancialStep {
	v := DeriveStatusVector(q)
	for i, status := range v {
		switch status {
		case StepActive:
			return FinancialSteps[i]
		case StepRejected:
			return StepClientRejected
		}
	}
	return StepClosed
}
