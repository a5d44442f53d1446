package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityType discriminates the payload carried by an Activity
type ActivityType string

const (
	ActivityApproval         ActivityType = "approval"
	ActivityMeetingScheduled ActivityType = "meeting_scheduled"
	ActivityMeetingReport    ActivityType = "meeting_report"
	ActivityStageNote        ActivityType = "stage_note"
	ActivityRejection        ActivityType = "rejection"
	ActivityQuoteCreated     ActivityType = "quote_created"
	ActivityClientApproval   ActivityType = "client_approval"
	ActivityPaymentConfirmed ActivityType = "payment_confirmed"
	ActivityInvoiceRequested ActivityType = "invoice_requested"
	ActivityInvoiceIssued    ActivityType = "invoice_issued"
	ActivityInvoiceSent      ActivityType = "invoice_sent"
)

// ActivityPayload is the typed metadata of an activity. Each variant reports
// the activity type it belongs to.
type ActivityPayload interface {
	ActivityType() ActivityType
}

type ApprovalPayload struct {
	AccountID      uuid.UUID        `json:"accountId"`
	AccountCreated bool             `json:"accountCreated"`
	PreviousStage  OpportunityStage `json:"previousStage"`
}

type MeetingScheduledPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	MeetingType string    `json:"meetingType"`
	Location    string    `json:"location,omitempty"`
}

type MeetingReportPayload struct {
	Outcome string `json:"outcome"`
	Summary string `json:"summary"`
}

type StageNotePayload struct {
	FromStage OpportunityStage `json:"fromStage"`
	ToStage   OpportunityStage `json:"toStage"`
	Note      string           `json:"note"`
}

type RejectionPayload struct {
	FromStage OpportunityStage `json:"fromStage"`
	Reason    string           `json:"reason"`
}

type QuoteCreatedPayload struct {
	QuoteID     uuid.UUID `json:"quoteId"`
	TotalAmount float64   `json:"totalAmount"`
	Reused      bool      `json:"reused"`
}

type ClientApprovalPayload struct {
	QuoteID  uuid.UUID `json:"quoteId"`
	Approved bool      `json:"approved"`
	Reason   string    `json:"reason,omitempty"`
}

type PaymentConfirmedPayload struct {
	QuoteID        uuid.UUID `json:"quoteId"`
	BankName       string    `json:"bankName"`
	Amount         float64   `json:"amount"`
	PaidAt         time.Time `json:"paidAt"`
	TransferNumber string    `json:"transferNumber"`
}

type InvoiceRequestedPayload struct {
	QuoteID    uuid.UUID `json:"quoteId"`
	RequestRef string    `json:"requestRef"`
}

type InvoiceIssuedPayload struct {
	QuoteID       uuid.UUID `json:"quoteId"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	DocumentPath  string    `json:"documentPath,omitempty"`
}

type InvoiceSentPayload struct {
	QuoteID   uuid.UUID `json:"quoteId"`
	Recipient string    `json:"recipient"`
}

func (ApprovalPayload) ActivityType() ActivityType         { return ActivityApproval }
func (MeetingScheduledPayload) ActivityType() ActivityType { return ActivityMeetingScheduled }
func (MeetingReportPayload) ActivityType() ActivityType    { return ActivityMeetingReport }
func (StageNotePayload) ActivityType() ActivityType        { return ActivityStageNote }
func (RejectionPayload) ActivityType() ActivityType        { return ActivityRejection }
func (QuoteCreatedPayload) ActivityType() ActivityType     { return ActivityQuoteCreated }
func (ClientApprovalPayload) ActivityType() ActivityType   { return ActivityClientApproval }
func (PaymentConfirmedPayload) ActivityType() ActivityType { return ActivityPaymentConfirmed }
func (InvoiceRequestedPayload) ActivityType() ActivityType { return ActivityInvoiceRequested }
func (InvoiceIssuedPayload) ActivityType() ActivityType    { return ActivityInvoiceIssued }
func (InvoiceSentPayload) ActivityType() ActivityType      { return ActivityInvoiceSent }

// EncodeActivityPayload serializes a payload for the activities.metadata column
func EncodeActivityPayload(p ActivityPayload) (ActivityType, string, error) {
	if p == nil {
		return "", "", fmt.Errorf("activity payload is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode %s payload: %w", p.ActivityType(), err)
	}
	return p.ActivityType(), string(raw), nil
}

// DecodeActivityPayload restores the typed payload for an activity type
func DecodeActivityPayload(t ActivityType, raw string) (ActivityPayload, error) {
	var p ActivityPayload
	switch t {
	case ActivityApproval:
		p = &ApprovalPayload{}
	case ActivityMeetingScheduled:
		p = &MeetingScheduledPayload{}
	case ActivityMeetingReport:
		p = &MeetingReportPayload{}
	case ActivityStageNote:
		p = &StageNotePayload{}
	case ActivityRejection:
		p = &RejectionPayload{}
	case ActivityQuoteCreated:
		p = &QuoteCreatedPayload{}
	case ActivityClientApproval:
		p = &ClientApprovalPayload{}
	case ActivityPaymentConfirmed:
		p = &PaymentConfirmedPayload{}
	case ActivityInvoiceRequested:
		p = &InvoiceRequestedPayload{}
	case ActivityInvoiceIssued:
		p = &InvoiceIssuedPayload{}
	case ActivityInvoiceSent:
		p = &InvoiceSentPayload{}
	default:
		return nil, fmt.Errorf("unknown activity type: %s", t)
	}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return p, nil
}
