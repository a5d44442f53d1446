package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaginatedResponse wraps list endpoints
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// Lead DTOs

type LeadDTO struct {
	ID                     uuid.UUID  `json:"id"`
	CompanyName            string     `json:"companyName"`
	ContactName            string     `json:"contactName"`
	ContactEmail           string     `json:"contactEmail"`
	ContactPhone           string     `json:"contactPhone,omitempty"`
	LeadSource             string     `json:"leadSource,omitempty"`
	ServiceType            string     `json:"serviceType,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
	Stage                  LeadStage  `json:"stage"`
	IsConverted            bool       `json:"isConverted"`
	ConvertedToAccountID   *uuid.UUID `json:"convertedToAccountId,omitempty"`
	ConvertedOpportunityID *uuid.UUID `json:"convertedOpportunityId,omitempty"`
	ConvertedAt            *time.Time `json:"convertedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

type CreateLeadRequest struct {
	CompanyName  string `json:"companyName" validate:"required,max=200"`
	ContactName  string `json:"contactName" validate:"required,max=200"`
	ContactEmail string `json:"contactEmail" validate:"required,email,max=255"`
	ContactPhone string `json:"contactPhone,omitempty" validate:"max=50"`
	LeadSource   string `json:"leadSource,omitempty" validate:"max=100"`
	ServiceType  string `json:"serviceType,omitempty" validate:"max=100"`
	Notes        string `json:"notes,omitempty"`
}

// IntakeLeadRequest is an external (web form) submission
type IntakeLeadRequest struct {
	CreateLeadRequest
	Message string `json:"message,omitempty" validate:"max=5000"`
}

// UpdateLeadRequest edits a lead. Identity fields are rejected once the lead is converted.
type UpdateLeadRequest struct {
	CompanyName  *string `json:"companyName,omitempty" validate:"omitempty,max=200"`
	ContactName  *string `json:"contactName,omitempty" validate:"omitempty,max=200"`
	ContactEmail *string `json:"contactEmail,omitempty" validate:"omitempty,email,max=255"`
	ContactPhone *string `json:"contactPhone,omitempty" validate:"omitempty,max=50"`
	LeadSource   *string `json:"leadSource,omitempty" validate:"omitempty,max=100"`
	ServiceType  *string `json:"serviceType,omitempty" validate:"omitempty,max=100"`
	Notes        *string `json:"notes,omitempty"`
}

type ChangeLeadStageRequest struct {
	Stage LeadStage `json:"stage" validate:"required"`
	Notes string    `json:"notes,omitempty"`
}

type ConvertLeadRequest struct {
	DealName      string  `json:"dealName" validate:"required,max=200"`
	ServiceType   string  `json:"serviceType,omitempty" validate:"max=100"`
	ExpectedValue float64 `json:"expectedValue" validate:"gt=0"`
}

type ConvertLeadResponse struct {
	OpportunityID uuid.UUID `json:"opportunityId"`
}

type LeadFilters struct {
	Stage       *LeadStage
	IsConverted *bool
	Search      string
}

// Opportunity DTOs

type OpportunityDTO struct {
	ID                uuid.UUID          `json:"id"`
	Name              string             `json:"name"`
	LeadID            *uuid.UUID         `json:"leadId,omitempty"`
	AccountID         *uuid.UUID         `json:"accountId,omitempty"`
	Stage             OpportunityStage   `json:"stage"`
	Status            OpportunityStatus  `json:"status"`
	Probability       int                `json:"probability"`
	ExpectedValue     float64            `json:"expectedValue"`
	OpportunityType   string             `json:"opportunityType,omitempty"`
	ExpectedCloseDate *time.Time         `json:"expectedCloseDate,omitempty"`
	ActualCloseDate   *time.Time         `json:"actualCloseDate,omitempty"`
	RejectionReason   string             `json:"rejectionReason,omitempty"`
	SuggestedNext     []OpportunityStage `json:"suggestedNextStages"`
	Version           int                `json:"version"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

type CreateOpportunityRequest struct {
	Name              string     `json:"name" validate:"required,max=200"`
	AccountID         *uuid.UUID `json:"accountId,omitempty"`
	ExpectedValue     float64    `json:"expectedValue" validate:"gte=0"`
	OpportunityType   string     `json:"opportunityType,omitempty" validate:"max=100"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`
}

type MeetingGate struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
	MeetingType string    `json:"meetingType" validate:"required,max=50"`
	Location    string    `json:"location,omitempty" validate:"max=200"`
}

type MeetingReportGate struct {
	Outcome string `json:"outcome" validate:"required,max=100"`
	Summary string `json:"summary" validate:"required"`
}

type QuoteGate struct {
	Title       string  `json:"title,omitempty" validate:"max=200"`
	TotalAmount float64 `json:"totalAmount" validate:"gte=0"`
}

type RejectionGate struct {
	Reason string `json:"reason" validate:"required"`
}

// TransitionStageRequest asks for a stage change together with the gate data
// the target stage requires
type TransitionStageRequest struct {
	ToStage         OpportunityStage   `json:"toStage" validate:"required"`
	ExpectedVersion *int               `json:"expectedVersion,omitempty"`
	Meeting         *MeetingGate       `json:"meeting,omitempty"`
	Report          *MeetingReportGate `json:"report,omitempty"`
	Quote           *QuoteGate         `json:"quote,omitempty"`
	Rejection       *RejectionGate     `json:"rejection,omitempty"`
	Note            string             `json:"note,omitempty"`
}

type ApproveOpportunityRequest struct {
	ExpectedVersion *int `json:"expectedVersion,omitempty"`
}

type ApprovalResultDTO struct {
	Opportunity     OpportunityDTO  `json:"opportunity"`
	Account         OrganizationDTO `json:"account"`
	AccountCreated  bool            `json:"accountCreated"`
	AlreadyApproved bool            `json:"alreadyApproved"`
}

type OpportunityFilters struct {
	Stage     *OpportunityStage
	Status    *OpportunityStatus
	AccountID *uuid.UUID
}

// Quote DTOs

type StepDTO struct {
	Step   FinancialStep `json:"step"`
	Status StepStatus    `json:"status"`
}

type StepperDTO struct {
	Enabled     bool          `json:"enabled"`
	CurrentStep FinancialStep `json:"currentStep"`
	Steps       []StepDTO     `json:"steps"`
}

type QuoteDTO struct {
	ID                    uuid.UUID     `json:"id"`
	OpportunityID         uuid.UUID     `json:"opportunityId"`
	AccountID             *uuid.UUID    `json:"accountId,omitempty"`
	Title                 string        `json:"title"`
	Status                QuoteStatus   `json:"status"`
	TotalAmount           float64       `json:"totalAmount"`
	ClientApproved        *bool         `json:"clientApproved,omitempty"`
	ClientRejectionReason string        `json:"clientRejectionReason,omitempty"`
	PaymentConfirmed      bool          `json:"paymentConfirmed"`
	PaymentStatus         PaymentStatus `json:"paymentStatus"`
	PaymentBankName       string        `json:"paymentBankName,omitempty"`
	PaymentAmount         float64       `json:"paymentAmount,omitempty"`
	PaymentDate           *time.Time    `json:"paymentDate,omitempty"`
	PaymentTransferNumber string        `json:"paymentTransferNumber,omitempty"`
	InvoiceStatus         InvoiceStatus `json:"invoiceStatus"`
	InvoiceRequestRef     string        `json:"invoiceRequestRef,omitempty"`
	InvoiceNumber         string        `json:"invoiceNumber,omitempty"`
	HasInvoiceDocument    bool          `json:"hasInvoiceDocument"`
	InvoiceSentToClient   bool          `json:"invoiceSentToClient"`
	InvoiceSentToClientAt *time.Time    `json:"invoiceSentToClientAt,omitempty"`
	Stepper               StepperDTO    `json:"stepper"`
	Version               int           `json:"version"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

type UpdateQuoteStatusRequest struct {
	Status          QuoteStatus `json:"status" validate:"required"`
	Note            string      `json:"note,omitempty"`
	ExpectedVersion *int        `json:"expectedVersion,omitempty"`
}

type ClientApprovalRequest struct {
	Approved        *bool  `json:"approved" validate:"required"`
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

type ConfirmPaymentRequest struct {
	BankName        string    `json:"bankName" validate:"required,max=200"`
	Amount          float64   `json:"amount" validate:"gt=0"`
	PaidAt          time.Time `json:"paidAt" validate:"required"`
	TransferNumber  string    `json:"transferNumber" validate:"required,max=100"`
	Notes           string    `json:"notes,omitempty"`
	ExpectedVersion *int      `json:"expectedVersion,omitempty"`
}

type RequestInvoiceRequest struct {
	BillingName     string `json:"billingName,omitempty" validate:"max=200"`
	TaxNumber       string `json:"taxNumber,omitempty" validate:"max=50"`
	Notes           string `json:"notes,omitempty"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

type ConfirmInvoiceIssuedRequest struct {
	InvoiceNumber   string `json:"invoiceNumber,omitempty" validate:"max=100"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

type SendInvoiceRequest struct {
	// Recipient overrides the account contact e-mail
	Recipient       string `json:"recipient,omitempty" validate:"omitempty,email"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

// Account DTOs

type OrganizationDTO struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	ContactEmail       string             `json:"contactEmail,omitempty"`
	ContactPhone       string             `json:"contactPhone,omitempty"`
	LifecycleStage     LifecycleStage     `json:"lifecycleStage"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	CustomerType       string             `json:"customerType,omitempty"`
	IsActive           bool               `json:"isActive"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Audit DTOs

type StageTransitionDTO struct {
	ID              uuid.UUID    `json:"id"`
	EntityType      EntityType   `json:"entityType"`
	EntityID        uuid.UUID    `json:"entityId"`
	PipelineType    PipelineType `json:"pipelineType"`
	FromStage       *string      `json:"fromStage,omitempty"`
	ToStage         string       `json:"toStage"`
	Reason          string       `json:"reason,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	PerformedBy     string       `json:"performedBy"`
	PerformedByName string       `json:"performedByName"`
	CreatedAt       time.Time    `json:"createdAt"`
}

type ActivityDTO struct {
	ID              uuid.UUID       `json:"id"`
	OpportunityID   uuid.UUID       `json:"opportunityId"`
	ActivityType    ActivityType    `json:"activityType"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Payload         ActivityPayload `json:"payload,omitempty"`
	PerformedBy     string          `json:"performedBy"`
	PerformedByName string          `json:"performedByName"`
	CreatedAt       time.Time       `json:"createdAt"`
}
