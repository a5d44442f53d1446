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

// PipelineService runs the opportunity stage machine
type PipelineService struct {
	db       *gorm.DB
	opps     *repository.OpportunityRepository
	quotes   *repository.QuoteRepository
	accounts *AccountService
	audit    *AuditService
	builder  QuoteBuilder
	logger   *zap.Logger
}

func NewPipelineService(
	db *gorm.DB,
	opps *repository.OpportunityRepository,
	quotes *repository.QuoteRepository,
	accounts *AccountService,
	audit *AuditService,
	builder QuoteBuilder,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		db:       db,
		opps:     opps,
		quotes:   quotes,
		accounts: accounts,
		audit:    audit,
		builder:  builder,
		logger:   logger,
	}
}

// CreateOpportunity opens an opportunity directly at the first stage
func (s *PipelineService) CreateOpportunity(ctx context.Context, actor domain.ActorContext, req *domain.CreateOpportunityRequest) (*domain.OpportunityDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateInput(req); err != nil {
		return nil, err
	}

	if req.AccountID != nil {
		if _, err := s.accounts.GetByID(ctx, *req.AccountID); err != nil {
			return nil, err
		}
	}

	opp := &domain.Opportunity{
		Name:              req.Name,
		AccountID:         req.AccountID,
		Stage:             domain.StageNewOpportunity,
		Status:            domain.OpportunityStatusOpen,
		Probability:       domain.StageNewOpportunity.Probability(),
		ExpectedValue:     req.ExpectedValue,
		OpportunityType:   req.OpportunityType,
		ExpectedCloseDate: req.ExpectedCloseDate,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.opps.WithTx(tx).Create(ctx, opp); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityOpportunity,
			EntityID:     opp.ID,
			PipelineType: domain.PipelineSales,
			ToStage:      string(domain.StageNewOpportunity),
			Notes:        "Opportunity created",
		})
		return err
	})
	if err != nil {
		return nil, classify("create opportunity", "opportunity", "", err)
	}

	s.logger.Info("Opportunity created",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("actor_id", actor.ID),
	)
	dto := mapper.ToOpportunityDTO(opp)
	return &dto, nil
}

func (s *PipelineService) GetByID(ctx context.Context, id uuid.UUID) (*domain.OpportunityDTO, error) {
	opp, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load opportunity", "opportunity", id.String(), err)
	}
	dto := mapper.ToOpportunityDTO(opp)
	return &dto, nil
}

func (s *PipelineService) List(ctx context.Context, page, pageSize int, filters *domain.OpportunityFilters) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	opps, total, err := s.opps.List(ctx, page, pageSize, filters)
	if err != nil {
		return nil, classify("list opportunities", "opportunity", "", err)
	}

	dtos := make([]domain.OpportunityDTO, len(opps))
	for i := range opps {
		dtos[i] = mapper.ToOpportunityDTO(&opps[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// SuggestedNextStages returns the presentation hint for the current stage
func (s *PipelineService) SuggestedNextStages(ctx context.Context, id uuid.UUID) ([]domain.OpportunityStage, error) {
	opp, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load opportunity", "opportunity", id.String(), err)
	}
	return domain.SuggestedNextStages(opp.Stage), nil
}

// gateResult is the validated gate data of one transition
type gateResult struct {
	kind     domain.GateKind
	payload  domain.ActivityPayload
	title    string
	note     string
	reason   string
	quote    *domain.QuoteGate
	quoteID  uuid.UUID
	newQuote bool
}

// TransitionStage moves an opportunity to req.ToStage once the gate of the
// target stage is satisfied. Requests for the approved stage run the approval
// unit.
func (s *PipelineService) TransitionStage(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.TransitionStageRequest) (*domain.OpportunityDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if !req.ToStage.IsValid() {
		return nil, NewValidationError("toStage", "unknown pipeline stage")
	}

	if req.ToStage == domain.StageApproved {
		result, err := s.Approve(ctx, actor, id, &domain.ApproveOpportunityRequest{ExpectedVersion: req.ExpectedVersion})
		if err != nil {
			return nil, err
		}
		return &result.Opportunity, nil
	}

	opp, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load opportunity", "opportunity", id.String(), err)
	}
	if opp.Stage.IsTerminal() {
		return nil, &NotFoundError{Entity: "opportunity", ID: id.String(), State: fmt.Sprintf("stage %s is terminal", opp.Stage)}
	}
	if opp.Stage == req.ToStage {
		return nil, NewValidationError("toStage", "opportunity is already in this stage")
	}
	if err := checkVersion("opportunity", id.String(), opp.Version, req.ExpectedVersion); err != nil {
		return nil, err
	}

	gate, err := buildGate(opp, req)
	if err != nil {
		return nil, err
	}

	if gate.kind == domain.GateQuote {
		if err := s.resolveProposalQuote(ctx, actor, opp, gate); err != nil {
			return nil, err
		}
	}

	from := opp.Stage
	applyStage(opp, req.ToStage, gate)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.opps.WithTx(tx).Update(ctx, opp); err != nil {
			return err
		}
		audit := s.audit.WithTx(tx)
		if _, err := audit.RecordTransition(ctx, actor, TransitionEntry{
			EntityType:   domain.EntityOpportunity,
			EntityID:     opp.ID,
			PipelineType: domain.PipelineSales,
			FromStage:    string(from),
			ToStage:      string(req.ToStage),
			Reason:       gate.reason,
			Notes:        gate.note,
		}); err != nil {
			return err
		}
		_, err := audit.RecordActivity(ctx, actor, opp.ID, gate.title, gate.note, gate.payload)
		return err
	})
	if err != nil {
		err = classify("transition opportunity", "opportunity", id.String(), err)
		if gate.newQuote {
			s.logger.Error("Quote created but stage change not committed",
				zap.String("opportunity_id", id.String()),
				zap.String("quote_id", gate.quoteID.String()),
				zap.Error(err),
			)
			return nil, &PartialFailureError{
				Operation: "transition to " + string(req.ToStage),
				Completed: []string{"quote_created"},
				Err:       err,
			}
		}
		return nil, err
	}

	s.logger.Info("Opportunity stage changed",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(req.ToStage)),
		zap.String("actor_id", actor.ID),
	)
	dto := mapper.ToOpportunityDTO(opp)
	return &dto, nil
}

// resolveProposalQuote reuses the open quote of the opportunity or asks the
// quote builder for a new one
func (s *PipelineService) resolveProposalQuote(ctx context.Context, actor domain.ActorContext, opp *domain.Opportunity, gate *gateResult) error {
	existing, err := s.quotes.FindOpenByOpportunity(ctx, opp.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return classify("look up open quote", "opportunity", opp.ID.String(), err)
	}

	if existing != nil {
		gate.quoteID = existing.ID
		gate.payload = domain.QuoteCreatedPayload{QuoteID: existing.ID, TotalAmount: existing.TotalAmount, Reused: true}
		gate.note = fmt.Sprintf("Proposal sent with existing quote %s", existing.ID)
		return nil
	}

	draft := QuoteDraft{
		OpportunityID: opp.ID,
		AccountID:     opp.AccountID,
		Title:         opp.Name,
		TotalAmount:   opp.ExpectedValue,
		Actor:         actor,
	}
	if gate.quote != nil {
		if t := strings.TrimSpace(gate.quote.Title); t != "" {
			draft.Title = t
		}
		if gate.quote.TotalAmount > 0 {
			draft.TotalAmount = gate.quote.TotalAmount
		}
	}

	quoteID, err := s.builder.CreateQuote(ctx, draft)
	if err != nil {
		s.logger.Error("Quote builder failed", zap.String("opportunity_id", opp.ID.String()), zap.Error(err))
		return &RemoteOperationError{Operation: "create quote", Err: err}
	}

	gate.quoteID = quoteID
	gate.newQuote = true
	gate.payload = domain.QuoteCreatedPayload{QuoteID: quoteID, TotalAmount: draft.TotalAmount}
	gate.note = fmt.Sprintf("Proposal sent with quote %s", quoteID)
	return nil
}

// buildGate validates the gate data required by the target stage
func buildGate(opp *domain.Opportunity, req *domain.TransitionStageRequest) (*gateResult, error) {
	gate := &gateResult{kind: domain.RequiredGate(req.ToStage), note: strings.TrimSpace(req.Note)}

	switch gate.kind {
	case domain.GateMeeting:
		if req.Meeting == nil {
			return nil, NewValidationError("meeting", "meeting date and type are required")
		}
		if err := validateInput(req.Meeting); err != nil {
			return nil, err
		}
		gate.title = "Meeting scheduled"
		gate.payload = domain.MeetingScheduledPayload{
			ScheduledAt: req.Meeting.ScheduledAt.UTC(),
			MeetingType: req.Meeting.MeetingType,
			Location:    req.Meeting.Location,
		}
		if gate.note == "" {
			gate.note = fmt.Sprintf("%s meeting on %s", req.Meeting.MeetingType, req.Meeting.ScheduledAt.UTC().Format("2006-01-02 15:04"))
		}
	case domain.GateReport:
		if req.Report == nil {
			return nil, NewValidationError("report", "a meeting report is required")
		}
		if err := validateInput(req.Report); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Report.Summary) == "" {
			return nil, NewValidationError("report.summary", "a meeting report is required")
		}
		gate.title = "Meeting report"
		gate.payload = domain.MeetingReportPayload{Outcome: req.Report.Outcome, Summary: req.Report.Summary}
		if gate.note == "" {
			gate.note = req.Report.Summary
		}
	case domain.GateQuote:
		if req.Quote != nil {
			if err := validateInput(req.Quote); err != nil {
				return nil, err
			}
		}
		gate.title = "Proposal sent"
		gate.quote = req.Quote
	case domain.GateRejection:
		if req.Rejection == nil || strings.TrimSpace(req.Rejection.Reason) == "" {
			return nil, NewValidationError("rejection.reason", "a rejection reason is required")
		}
		gate.title = "Opportunity rejected"
		gate.reason = strings.TrimSpace(req.Rejection.Reason)
		gate.payload = domain.RejectionPayload{FromStage: opp.Stage, Reason: gate.reason}
		if gate.note == "" {
			gate.note = gate.reason
		}
	default:
		if gate.note == "" {
			return nil, NewValidationError("note", "a stage note is required")
		}
		gate.title = "Stage changed"
		gate.payload = domain.StageNotePayload{FromStage: opp.Stage, ToStage: req.ToStage, Note: gate.note}
	}
	return gate, nil
}

func applyStage(opp *domain.Opportunity, target domain.OpportunityStage, gate *gateResult) {
	opp.Stage = target
	opp.Probability = target.Probability()
	if target == domain.StageRejected {
		now := nowUTC()
		opp.Status = domain.OpportunityStatusLost
		opp.ActualCloseDate = &now
		opp.RejectionReason = gate.reason
	}
}

// Approve closes the opportunity as won and provisions its account. The unit
// runs in one transaction and every sub-step checks whether it already
// happened, so a repeated call is safe and never creates a second account.
func (s *PipelineService) Approve(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req *domain.ApproveOpportunityRequest) (*domain.ApprovalResultDTO, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if req == nil {
		req = &domain.ApproveOpportunityRequest{}
	}

	var (
		opp             *domain.Opportunity
		account         *domain.Organization
		accountCreated  bool
		alreadyApproved bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		opps := s.opps.WithTx(tx)
		audit := s.audit.WithTx(tx)

		var err error
		opp, err = opps.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if opp.Stage == domain.StageRejected {
			return &NotFoundError{Entity: "opportunity", ID: id.String(), State: "rejected opportunities cannot be approved"}
		}

		wasApproved := opp.Stage == domain.StageApproved
		if !wasApproved {
			if err := checkVersion("opportunity", id.String(), opp.Version, req.ExpectedVersion); err != nil {
				return err
			}
		}
		previous := opp.Stage

		ensured, err := s.accounts.WithTx(tx).EnsureAccount(ctx, AccountSource{
			LinkedAccountID: opp.AccountID,
			SourceType:      domain.AccountSourceOpportunity,
			SourceID:        opp.ID,
			Name:            opp.Name,
			CustomerType:    opp.OpportunityType,
		}, EnsureOptions{Activate: true})
		if err != nil {
			return err
		}
		account = ensured.Account
		accountCreated = ensured.Created

		changed := false
		if !wasApproved {
			now := nowUTC()
			opp.Stage = domain.StageApproved
			opp.Status = domain.OpportunityStatusWon
			opp.Probability = domain.StageApproved.Probability()
			opp.ActualCloseDate = &now
			changed = true
		}
		if opp.AccountID == nil || *opp.AccountID != account.ID {
			opp.AccountID = &account.ID
			changed = true
		}
		if changed {
			if err := opps.Update(ctx, opp); err != nil {
				return err
			}
		}

		if _, err := s.quotes.WithTx(tx).LinkAccount(ctx, opp.ID, account.ID); err != nil {
			return fmt.Errorf("failed to link quotes to account: %w", err)
		}

		hasTransition, err := audit.HasTransitionTo(ctx, domain.EntityOpportunity, opp.ID, string(domain.StageApproved))
		if err != nil {
			return err
		}
		if !hasTransition {
			if _, err := audit.RecordTransition(ctx, actor, TransitionEntry{
				EntityType:   domain.EntityOpportunity,
				EntityID:     opp.ID,
				PipelineType: domain.PipelineSales,
				FromStage:    string(previous),
				ToStage:      string(domain.StageApproved),
				Notes:        fmt.Sprintf("Approved; account %s (%s)", account.Name, account.ID),
			}); err != nil {
				return err
			}
		}

		hasActivity, err := audit.HasActivity(ctx, opp.ID, domain.ActivityApproval)
		if err != nil {
			return err
		}
		if !hasActivity {
			if _, err := audit.RecordActivity(ctx, actor, opp.ID,
				"Opportunity approved",
				fmt.Sprintf("Account %s is onboarding", account.Name),
				domain.ApprovalPayload{AccountID: account.ID, AccountCreated: ensured.Created, PreviousStage: previous},
			); err != nil {
				return err
			}
		}

		alreadyApproved = wasApproved && !changed && !ensured.Created && !ensured.Updated && hasTransition && hasActivity
		return nil
	})
	if err != nil {
		err = classify("approve opportunity", "opportunity", id.String(), err)
		var remote *RemoteOperationError
		if errors.As(err, &remote) {
			logger.WithActor(s.logger, actor).Error("Opportunity approval failed", zap.String("opportunity_id", id.String()), zap.Error(err))
		}
		return nil, err
	}

	if alreadyApproved {
		s.logger.Info("Opportunity already approved", zap.String("opportunity_id", id.String()))
	} else {
		s.logger.Info("Opportunity approved",
			zap.String("opportunity_id", opp.ID.String()),
			zap.String("account_id", account.ID.String()),
			zap.Bool("account_created", accountCreated),
			zap.String("actor_id", actor.ID),
		)
	}

	return &domain.ApprovalResultDTO{
		Opportunity:     mapper.ToOpportunityDTO(opp),
		Account:         mapper.ToOrganizationDTO(account),
		AccountCreated:  accountCreated,
		AlreadyApproved: alreadyApproved,
	}, nil
}

// History returns the stage transitions of an opportunity, oldest first
func (s *PipelineService) History(ctx context.Context, id uuid.UUID) ([]domain.StageTransitionDTO, error) {
	if _, err := s.opps.GetByID(ctx, id); err != nil {
		return nil, classify("load opportunity", "opportunity", id.String(), err)
	}
	transitions, err := s.audit.ListTransitions(ctx, domain.EntityOpportunity, id)
	if err != nil {
		return nil, err
	}
	dtos := make([]domain.StageTransitionDTO, len(transitions))
	for i := range transitions {
		dtos[i] = mapper.ToStageTransitionDTO(&transitions[i])
	}
	return dtos, nil
}

// Activities returns the timeline of an opportunity, newest first
func (s *PipelineService) Activities(ctx context.Context, id uuid.UUID) ([]domain.ActivityDTO, error) {
	if _, err := s.opps.GetByID(ctx, id); err != nil {
		return nil, classify("load opportunity", "opportunity", id.String(), err)
	}
	activities, err := s.audit.ListActivities(ctx, id)
	if err != nil {
		return nil, err
	}
	dtos := make([]domain.ActivityDTO, len(activities))
	for i := range activities {
		dtos[i] = mapper.ToActivityDTO(&activities[i])
	}
	return dtos, nil
}
