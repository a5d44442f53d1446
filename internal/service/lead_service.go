package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/logger"
	"github.com/straye-as/salesflow-api/internal/mapper"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Lead re-discovery modes for repeat intake submissions
const (
	RediscoveryNote  = "note"
	RediscoveryMerge = "merge"
)

// Policy holds the configurable business rules of the pipeline
type Policy struct {
	// DefaultProbability seeds opportunities created by lead conversion
	DefaultProbability int
	// AllowDeleteConvertedLeads keeps hard delete available after conversion
	AllowDeleteConvertedLeads bool
	// LeadRediscovery is RediscoveryNote or RediscoveryMerge
	LeadRediscovery string
}

// DefaultPolicy returns the policy matching the historical behaviour
func DefaultPolicy() Policy {
	return Policy{
		DefaultProbability:        20,
		AllowDeleteConvertedLeads: true,
		LeadRediscovery:           RediscoveryNote,
	}
}

type LeadService struct {
	db       *gorm.DB
	leads    *repository.LeadRepository
	opps     *repository.OpportunityRepository
	accounts *AccountService
	audit    *AuditService
	policy   Policy
	logger   *zap.Logger
}

func NewLeadService(
	db *gorm.DB,
	leads *repository.LeadRepository,
	opps *repository.OpportunityRepository,
	accounts *AccountService,
	audit *AuditService,
	policy Policy,
	logger *zap.Logger,
) *LeadService {
	return &LeadService{
		db:       db,
		leads:    leads,
		opps:     opps,
		accounts: accounts,
		audit:    audit,
		policy:   policy,
		logger:   logger,
	}
}

// Create validates contact fields and stores a new lead at stage "new"
func (s *LeadService) Create(ctx context.Context, actor domain.ActorContext, req *domain.CreateLeadRequest) (*domain.LeadDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}

	lead := newLead(req)
	if err := s.createWithHistory(ctx, actor, lead); err != nil {
		return nil, err
	}

	s.logger.Info("Lead created",
		zap.String("lead_id", lead.ID.String()),
		zap.String("company", lead.CompanyName),
		zap.String("actor_id", actor.ID),
	)
	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

// Intake handles an external submission. A known open lead with the same
// e-mail is reused instead of creating a duplicate; the returned flag reports
// whether a new lead was created.
func (s *LeadService) Intake(ctx context.Context, actor domain.ActorContext, req *domain.IntakeLeadRequest) (*domain.LeadDTO, bool, error) {
	if err := validateActor(actor); err != nil {
		return nil, false, err
	}
	if err := validateInput(req); err != nil {
		return nil, false, err
	}

	existing, err := s.leads.FindOpenByEmail(ctx, req.ContactEmail)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, classify("look up lead by email", "lead", req.ContactEmail, err)
	}

	if existing == nil {
		lead := newLead(&req.CreateLeadRequest)
		lead.Notes = appendNote(lead.Notes, inboundNote(req))
		if err := s.createWithHistory(ctx, actor, lead); err != nil {
			return nil, false, err
		}
		s.logger.Info("Lead received from intake", zap.String("lead_id", lead.ID.String()))
		dto := mapper.ToLeadDTO(lead)
		return &dto, true, nil
	}

	if s.policy.LeadRediscovery == RediscoveryMerge {
		mergeEmptyFields(existing, &req.CreateLeadRequest)
	}
	existing.Notes = appendNote(existing.Notes, inboundNote(req))

	if err := s.leads.Update(ctx, existing); err != nil {
		return nil, false, classify("update rediscovered lead", "lead", existing.ID.String(), err)
	}

	s.logger.Info("Repeat intake attached to existing lead",
		zap.String("lead_id", existing.ID.String()),
		zap.String("mode", s.policy.LeadRediscovery),
	)
	dto := mapper.ToLeadDTO(existing)
	return &dto, false, nil
}

func (s *LeadService) GetByID(ctx context.Context, id uuid.UUID) (*domain.LeadDTO, error) {
	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load lead", "lead", id.String(), err)
	}
	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

func (s *LeadService) List(ctx context.Context, page, pageSize int, filters *domain.LeadFilters) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	leads, total, err := s.leads.List(ctx, page, pageSize, filters)
	if err != nil {
		return nil, classify("list leads", "lead", "", err)
	}

	dtos := make([]domain.LeadDTO, len(leads))
	for i := range leads {
		dtos[i] = mapper.ToLeadDTO(&leads[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// Update edits lead fields. Identity fields are frozen once converted.
func (s *LeadService) Update(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.UpdateLeadRequest) (*domain.LeadDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}

	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load lead", "lead", id.String(), err)
	}

	if lead.IsConverted && changesIdentity(lead, req) {
		return nil, &NotFoundError{Entity: "lead", ID: id.String(), State: "converted leads keep their company and contact identity"}
	}

	if req.CompanyName != nil {
		lead.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.ContactName != nil {
		lead.ContactName = strings.TrimSpace(*req.ContactName)
	}
	if req.ContactEmail != nil {
		lead.ContactEmail = strings.TrimSpace(*req.ContactEmail)
	}
	if req.ContactPhone != nil {
		lead.ContactPhone = *req.ContactPhone
	}
	if req.LeadSource != nil {
		lead.LeadSource = *req.LeadSource
	}
	if req.ServiceType != nil {
		lead.ServiceType = *req.ServiceType
	}
	if req.Notes != nil {
		lead.Notes = *req.Notes
	}

	if lead.CompanyName == "" || lead.ContactName == "" {
		return nil, NewValidationError("companyName", "company and contact name cannot be blank")
	}

	if err := s.leads.Update(ctx, lead); err != nil {
		return nil, classify("update lead", "lead", id.String(), err)
	}

	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

// ChangeStage moves an unconverted lead between its working stages
func (s *LeadService) ChangeStage(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.ChangeLeadStageRequest) (*domain.LeadDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if !req.Stage.IsValid() {
		return nil, NewValidationError("stage", "unknown lead stage")
	}
	if req.Stage == domain.LeadStageConverted {
		return nil, NewValidationError("stage", "use lead conversion to reach the converted stage")
	}

	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load lead", "lead", id.String(), err)
	}
	if lead.IsConverted {
		return nil, &NotFoundError{Entity: "lead", ID: id.String(), State: "lead is already converted"}
	}
	if lead.Stage == req.Stage {
		return nil, NewValidationError("stage", "lead is already in this stage")
	}

	from := lead.Stage
	lead.Stage = req.Stage

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leads.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityLead,
			EntityID:     lead.ID,
			PipelineType: domain.PipelineLead,
			FromStage:    string(from),
			ToStage:      string(req.Stage),
			Notes:        req.Notes,
		})
		return err
	})
	if err != nil {
		return nil, classify("change lead stage", "lead", id.String(), err)
	}

	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

// Convert turns a lead into an inactive account and an opportunity at the
// first pipeline stage. All effects commit together; a retry after a failure
// reuses the account and opportunity keyed to the lead.
func (s *LeadService) Convert(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.ConvertLeadRequest) (uuid.UUID, error) {
	if err := validateActor(actor); err != nil {
		return uuid.Nil, err
	}
	req.DealName = strings.TrimSpace(req.DealName)
	if err := validateInput(req); err != nil {
		return uuid.Nil, err
	}

	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, classify("load lead", "lead", id.String(), err)
	}
	if lead.IsConverted {
		return uuid.Nil, &NotFoundError{Entity: "lead", ID: id.String(), State: "lead is already converted"}
	}

	var opp *domain.Opportunity
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err := s.accounts.WithTx(tx).EnsureAccount(ctx, AccountSource{
			SourceType:   domain.AccountSourceLead,
			SourceID:     lead.ID,
			Name:         lead.CompanyName,
			ContactEmail: lead.ContactEmail,
			ContactPhone: lead.ContactPhone,
			CustomerType: req.ServiceType,
		}, EnsureOptions{})
		if err != nil {
			return err
		}
		account := result.Account

		opps := s.opps.WithTx(tx)
		opp, err = opps.GetByLeadID(ctx, lead.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if opp == nil {
			leadID := lead.ID
			opp = &domain.Opportunity{
				Name:            req.DealName,
				LeadID:          &leadID,
				AccountID:       &account.ID,
				Stage:           domain.StageNewOpportunity,
				Status:          domain.OpportunityStatusOpen,
				Probability:     s.policy.DefaultProbability,
				ExpectedValue:   req.ExpectedValue,
				OpportunityType: req.ServiceType,
			}
			if err := opps.Create(ctx, opp); err != nil {
				return fmt.Errorf("failed to create opportunity: %w", err)
			}
		}

		if err := s.leads.WithTx(tx).MarkConverted(ctx, lead.ID, account.ID, opp.ID, nowUTC()); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return &NotFoundError{Entity: "lead", ID: id.String(), State: "lead is already converted"}
			}
			return err
		}

		_, err = s.audit.WithTx(tx).RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityLead,
			EntityID:     lead.ID,
			PipelineType: domain.PipelineLead,
			FromStage:    string(lead.Stage),
			ToStage:      string(domain.LeadStageConverted),
			Notes: fmt.Sprintf("Converted to opportunity %q (%s), expected value %.2f, account %s",
				opp.Name, opp.ID, opp.ExpectedValue, account.ID),
		})
		return err
	})
	if err != nil {
		err = classify("convert lead", "lead", id.String(), err)
		var remote *RemoteOperationError
		if errors.As(err, &remote) {
			logger.WithActor(s.logger, actor).Error("Lead conversion failed", zap.String("lead_id", id.String()), zap.Error(err))
		}
		return uuid.Nil, err
	}

	s.logger.Info("Lead converted",
		zap.String("lead_id", lead.ID.String()),
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("actor_id", actor.ID),
	)
	return opp.ID, nil
}

// Delete hard-deletes a lead. Converted leads are only deletable when the
// policy allows it.
func (s *LeadService) Delete(ctx context.Context, actor domain.ActorContext, id uuid.UUID) error {
	if err := validateActor(actor); err != nil {
		return err
	}

	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return classify("load lead", "lead", id.String(), err)
	}
	if lead.IsConverted && !s.policy.AllowDeleteConvertedLeads {
		return &NotFoundError{Entity: "lead", ID: id.String(), State: "converted leads cannot be deleted"}
	}

	if err := s.leads.Delete(ctx, id); err != nil {
		return classify("delete lead", "lead", id.String(), err)
	}

	s.logger.Info("Lead deleted",
		zap.String("lead_id", id.String()),
		zap.Bool("was_converted", lead.IsConverted),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

func (s *LeadService) createWithHistory(ctx context.Context, actor domain.ActorContext, lead *domain.Lead) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leads.WithTx(tx).Create(ctx, lead); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityLead,
			EntityID:     lead.ID,
			PipelineType: domain.PipelineLead,
			ToStage:      string(domain.LeadStageNew),
			Notes:        "Lead created",
		})
		return err
	})
	return classify("create lead", "lead", "", err)
}

func newLead(req *domain.CreateLeadRequest) *domain.Lead {
	return &domain.Lead{
		CompanyName:  strings.TrimSpace(req.CompanyName),
		ContactName:  strings.TrimSpace(req.ContactName),
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		ContactPhone: strings.TrimSpace(req.ContactPhone),
		LeadSource:   req.LeadSource,
		ServiceType:  req.ServiceType,
		Notes:        req.Notes,
		Stage:        domain.LeadStageNew,
	}
}

func changesIdentity(lead *domain.Lead, req *domain.UpdateLeadRequest) bool {
	differs := func(v *string, current string) bool {
		return v != nil && strings.TrimSpace(*v) != current
	}
	return differs(req.CompanyName, lead.CompanyName) ||
		differs(req.ContactName, lead.ContactName) ||
		differs(req.ContactEmail, lead.ContactEmail) ||
		differs(req.ContactPhone, lead.ContactPhone)
}

func mergeEmptyFields(lead *domain.Lead, req *domain.CreateLeadRequest) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&lead.CompanyName, req.CompanyName)
	fill(&lead.ContactName, req.ContactName)
	fill(&lead.ContactPhone, req.ContactPhone)
	fill(&lead.LeadSource, req.LeadSource)
	fill(&lead.ServiceType, req.ServiceType)
}

func inboundNote(req *domain.IntakeLeadRequest) string {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		msg = strings.TrimSpace(req.Notes)
	}
	if msg == "" {
		msg = "Repeat submission"
	}
	source := req.LeadSource
	if source == "" {
		source = "intake"
	}
	return fmt.Sprintf("[%s] inbound via %s: %s", nowUTC().Format("2006-01-02 15:04"), source, msg)
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
