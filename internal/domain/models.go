package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrImmutableRecord is returned when an audit record is updated or deleted
var ErrImmutableRecord = errors.New("audit records are append-only")

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate assigns an ID when the caller did not
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// ActorContext identifies the staff member (or system integration) performing an operation
type ActorContext struct {
	ID   string
	Name string
}

// LeadStage represents the lifecycle position of an unqualified inbound contact
type LeadStage string

const (
	LeadStageNew         LeadStage = "new"
	LeadStageContacted   LeadStage = "contacted"
	LeadStageInterested  LeadStage = "interested"
	LeadStageQualified   LeadStage = "qualified"
	LeadStageUnqualified LeadStage = "unqualified"
	LeadStageConverted   LeadStage = "converted"
)

// IsValid checks if the lead stage is a known value
func (s LeadStage) IsValid() bool {
	switch s {
	case LeadStageNew, LeadStageContacted, LeadStageInterested, LeadStageQualified,
		LeadStageUnqualified, LeadStageConverted:
		return true
	}
	return false
}

// Lead is an inbound contact prior to becoming a sales opportunity
type Lead struct {
	BaseModel
	CompanyName            string     `gorm:"type:varchar(200);not null;column:company_name"`
	ContactName            string     `gorm:"type:varchar(200);not null;column:contact_name"`
	ContactEmail           string     `gorm:"type:varchar(255);not null;index;column:contact_email"`
	ContactPhone           string     `gorm:"type:varchar(50);column:contact_phone"`
	LeadSource             string     `gorm:"type:varchar(100);column:lead_source"`
	ServiceType            string     `gorm:"type:varchar(100);column:service_type"`
	Notes                  string     `gorm:"type:text"`
	Stage                  LeadStage  `gorm:"type:varchar(50);not null;index"`
	IsConverted            bool       `gorm:"not null;column:is_converted"`
	ConvertedToAccountID   *uuid.UUID `gorm:"type:uuid;column:converted_to_account_id"`
	ConvertedOpportunityID *uuid.UUID `gorm:"type:uuid;column:converted_opportunity_id"`
	ConvertedAt            *time.Time `gorm:"column:converted_at"`
}

// OpportunityStage is one position in the ordered sales pipeline
type OpportunityStage string

const (
	StageNewOpportunity   OpportunityStage = "new_opportunity"
	StageMeetingScheduled OpportunityStage = "meeting_scheduled"
	StageMeetingDone      OpportunityStage = "meeting_done"
	StageProposalSent     OpportunityStage = "proposal_sent"
	StagePendingApproval  OpportunityStage = "pending_approval"
	StageApproved         OpportunityStage = "approved"
	StageRejected         OpportunityStage = "rejected"
)

// OpportunityStatus represents the commercial outcome of an opportunity
type OpportunityStatus string

const (
	OpportunityStatusOpen OpportunityStatus = "open"
	OpportunityStatusWon  OpportunityStatus = "won"
	OpportunityStatusLost OpportunityStatus = "lost"
)

// Opportunity is a value-bearing sales pursuit ("deal")
type Opportunity struct {
	BaseModel
	Name              string            `gorm:"type:varchar(200);not null"`
	LeadID            *uuid.UUID        `gorm:"type:uuid;uniqueIndex;column:lead_id"`
	AccountID         *uuid.UUID        `gorm:"type:uuid;index;column:account_id"`
	Stage             OpportunityStage  `gorm:"type:varchar(50);not null;index"`
	Status            OpportunityStatus `gorm:"type:varchar(20);not null;index"`
	Probability       int               `gorm:"not null"`
	ExpectedValue     float64           `gorm:"type:decimal(15,2);not null;column:expected_value"`
	OpportunityType   string            `gorm:"type:varchar(100);column:opportunity_type"`
	ExpectedCloseDate *time.Time        `gorm:"column:expected_close_date"`
	ActualCloseDate   *time.Time        `gorm:"column:actual_close_date"`
	RejectionReason   string            `gorm:"type:text;column:rejection_reason"`
	// Version is incremented on every update and checked by conditional writes
	Version int `gorm:"not null"`
}

// BeforeCreate assigns an ID and the initial version
func (o *Opportunity) BeforeCreate(tx *gorm.DB) error {
	if o.Version == 0 {
		o.Version = 1
	}
	return o.BaseModel.BeforeCreate(tx)
}

// QuoteStatus is the commercial status of a quote
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "draft"
	QuoteStatusSent     QuoteStatus = "sent"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
	QuoteStatusExpired  QuoteStatus = "expired"
)

// IsValid checks if the quote status is a known value
func (s QuoteStatus) IsValid() bool {
	switch s {
	case QuoteStatusDraft, QuoteStatusSent, QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the quote can still progress
func (s QuoteStatus) IsOpen() bool {
	return s == QuoteStatusDraft || s == QuoteStatusSent || s == QuoteStatusAccepted
}

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type InvoiceStatus string

const (
	InvoiceStatusNotRequested InvoiceStatus = "not_requested"
	InvoiceStatusRequested    InvoiceStatus = "requested"
	InvoiceStatusIssued       InvoiceStatus = "issued"
)

// Quote is a priced proposal tied to an opportunity. The financial flags are
// the source of truth for the close-out stepper; FinancialStep is a cached
// projection kept for querying.
type Quote struct {
	BaseModel
	OpportunityID uuid.UUID   `gorm:"type:uuid;not null;index;column:opportunity_id"`
	AccountID     *uuid.UUID  `gorm:"type:uuid;index;column:account_id"`
	Title         string      `gorm:"type:varchar(200);not null"`
	Status        QuoteStatus `gorm:"type:varchar(20);not null;index"`
	TotalAmount   float64     `gorm:"type:decimal(15,2);not null;column:total_amount"`

	ClientApproved        *bool      `gorm:"column:client_approved"`
	ClientRejectionReason string     `gorm:"type:text;column:client_rejection_reason"`
	ClientApprovalAt      *time.Time `gorm:"column:client_approval_at"`

	PaymentConfirmed      bool          `gorm:"not null;column:payment_confirmed"`
	PaymentStatus         PaymentStatus `gorm:"type:varchar(20);not null;column:payment_status"`
	PaymentBankName       string        `gorm:"type:varchar(200);column:payment_bank_name"`
	PaymentAmount         float64       `gorm:"type:decimal(15,2);column:payment_amount"`
	PaymentDate           *time.Time    `gorm:"column:payment_date"`
	PaymentTransferNumber string        `gorm:"type:varchar(100);column:payment_transfer_number"`
	PaymentNotes          string        `gorm:"type:text;column:payment_notes"`

	InvoiceStatus       InvoiceStatus `gorm:"type:varchar(20);not null;column:invoice_status"`
	InvoiceRequestRef   string        `gorm:"type:varchar(100);column:invoice_request_ref"`
	InvoiceNumber       string        `gorm:"type:varchar(100);column:invoice_number"`
	InvoiceDocumentPath string        `gorm:"type:varchar(500);column:invoice_document_path"`
	InvoiceIssuedAt     *time.Time    `gorm:"column:invoice_issued_at"`

	InvoiceSentToClient   bool       `gorm:"not null;column:invoice_sent_to_client"`
	InvoiceSentToClientAt *time.Time `gorm:"column:invoice_sent_to_client_at"`

	FinancialStep FinancialStep `gorm:"type:varchar(50);column:financial_step;index"`
	Version       int           `gorm:"not null"`
}

// BeforeCreate assigns an ID, the initial version and flag defaults
func (q *Quote) BeforeCreate(tx *gorm.DB) error {
	if q.Version == 0 {
		q.Version = 1
	}
	if q.PaymentStatus == "" {
		q.PaymentStatus = PaymentStatusUnpaid
	}
	if q.InvoiceStatus == "" {
		q.InvoiceStatus = InvoiceStatusNotRequested
	}
	return q.BaseModel.BeforeCreate(tx)
}

type LifecycleStage string

const (
	LifecycleProspect   LifecycleStage = "prospect"
	LifecycleOnboarding LifecycleStage = "onboarding"
	LifecycleActive     LifecycleStage = "active"
	LifecycleChurned    LifecycleStage = "churned"
)

type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// AccountSourceType identifies which record an account was provisioned from
type AccountSourceType string

const (
	AccountSourceLead        AccountSourceType = "lead"
	AccountSourceOpportunity AccountSourceType = "opportunity"
)

// Organization is the canonical client account. (SourceType, SourceID) is the
// provisioning idempotency key.
type Organization struct {
	BaseModel
	Name               string             `gorm:"type:varchar(200);not null"`
	ContactEmail       string             `gorm:"type:varchar(255);column:contact_email"`
	ContactPhone       string             `gorm:"type:varchar(50);column:contact_phone"`
	LifecycleStage     LifecycleStage     `gorm:"type:varchar(50);not null;column:lifecycle_stage"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(50);not null;column:subscription_status"`
	CustomerType       string             `gorm:"type:varchar(100);column:customer_type"`
	IsActive           bool               `gorm:"not null;column:is_active"`
	SourceType         AccountSourceType  `gorm:"type:varchar(20);column:source_type;uniqueIndex:idx_organizations_source"`
	SourceID           *uuid.UUID         `gorm:"type:uuid;column:source_id;uniqueIndex:idx_organizations_source"`
}

// EntityType names the record a stage transition belongs to
type EntityType string

const (
	EntityLead        EntityType = "lead"
	EntityOpportunity EntityType = "opportunity"
	EntityQuote       EntityType = "quote"
)

// PipelineType names the state machine a transition happened in
type PipelineType string

const (
	PipelineLead      PipelineType = "lead"
	PipelineSales     PipelineType = "sales"
	PipelineQuote     PipelineType = "quote"
	PipelineFinancial PipelineType = "financial"
)

// StageTransition is an immutable audit row written for every stage change
type StageTransition struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey"`
	EntityType      EntityType   `gorm:"type:varchar(20);not null;index:idx_stage_transitions_entity"`
	EntityID        uuid.UUID    `gorm:"type:uuid;not null;index:idx_stage_transitions_entity"`
	PipelineType    PipelineType `gorm:"type:varchar(20);not null"`
	FromStage       *string      `gorm:"type:varchar(50);column:from_stage"`
	ToStage         string       `gorm:"type:varchar(50);not null;column:to_stage"`
	Reason          string       `gorm:"type:text"`
	Notes           string       `gorm:"type:text"`
	PerformedBy     string       `gorm:"type:varchar(100);not null;column:performed_by"`
	PerformedByName string       `gorm:"type:varchar(200);column:performed_by_name"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (s *StageTransition) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *StageTransition) BeforeUpdate(tx *gorm.DB) error { return ErrImmutableRecord }
func (s *StageTransition) BeforeDelete(tx *gorm.DB) error { return ErrImmutableRecord }

// Activity is an immutable timeline entry attached to an opportunity.
// Metadata holds the JSON encoding of the ActivityPayload matching ActivityType.
type Activity struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey"`
	OpportunityID   uuid.UUID    `gorm:"type:uuid;not null;index;column:opportunity_id"`
	ActivityType    ActivityType `gorm:"type:varchar(50);not null;column:activity_type"`
	Title           string       `gorm:"type:varchar(200);not null"`
	Description     string       `gorm:"type:text"`
	Metadata        string       `gorm:"type:jsonb"`
	PerformedBy     string       `gorm:"type:varchar(100);not null;column:performed_by"`
	PerformedByName string       `gorm:"type:varchar(200);column:performed_by_name"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Activity) BeforeUpdate(tx *gorm.DB) error { return ErrImmutableRecord }
func (a *Activity) BeforeDelete(tx *gorm.DB) error { return ErrImmutableRecord }

// Payload decodes the typed metadata of the activity
func (a *Activity) Payload() (ActivityPayload, error) {
	return DecodeActivityPayload(a.ActivityType, a.Metadata)
}
