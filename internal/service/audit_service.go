package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditService writes the two append-only streams: stage transitions and
// opportunity activities. Callers bind it to their transaction with WithTx so
// the audit rows commit together with the change they describe.
type AuditService struct {
	transitions *repository.StageTransitionRepository
	activities  *repository.ActivityRepository
	logger      *zap.Logger
}

func NewAuditService(
	transitions *repository.StageTransitionRepository,
	activities *repository.ActivityRepository,
	logger *zap.Logger,
) *AuditService {
	return &AuditService{transitions: transitions, activities: activities, logger: logger}
}

// WithTx returns an audit service writing inside tx
func (s *AuditService) WithTx(tx *gorm.DB) *AuditService {
	return &AuditService{
		transitions: s.transitions.WithTx(tx),
		activities:  s.activities.WithTx(tx),
		logger:      s.logger,
	}
}

// TransitionEntry describes one stage change
type TransitionEntry struct {
	EntityType   domain.EntityType
	EntityID     uuid.UUID
	PipelineType domain.PipelineType
	// FromStage is empty for the initial stage of a record
	FromStage string
	ToStage   string
	Reason    string
	Notes     string
}

// RecordTransition appends a StageTransition stamped with the actor
func (s *AuditService) RecordTransition(ctx context.Context, actor domain.ActorContext, entry TransitionEntry) (*domain.StageTransition, error) {
	if entry.ToStage == "" {
		return nil, fmt.Errorf("transition for %s %s has no target stage", entry.EntityType, entry.EntityID)
	}

	var from *string
	if entry.FromStage != "" {
		f := entry.FromStage
		from = &f
	}

	transition := &domain.StageTransition{
		EntityType:      entry.EntityType,
		EntityID:        entry.EntityID,
		PipelineType:    entry.PipelineType,
		FromStage:       from,
		ToStage:         entry.ToStage,
		Reason:          entry.Reason,
		Notes:           entry.Notes,
		PerformedBy:     actor.ID,
		PerformedByName: actor.Name,
	}
	if err := s.transitions.Create(ctx, transition); err != nil {
		return nil, fmt.Errorf("failed to record %s transition to %s: %w", entry.EntityType, entry.ToStage, err)
	}
	return transition, nil
}

// RecordActivity appends a timeline entry carrying a typed payload
func (s *AuditService) RecordActivity(ctx context.Context, actor domain.ActorContext, opportunityID uuid.UUID, title, description string, payload domain.ActivityPayload) (*domain.Activity, error) {
	activityType, metadata, err := domain.EncodeActivityPayload(payload)
	if err != nil {
		return nil, err
	}

	activity := &domain.Activity{
		OpportunityID:   opportunityID,
		ActivityType:    activityType,
		Title:           title,
		Description:     description,
		Metadata:        metadata,
		PerformedBy:     actor.ID,
		PerformedByName: actor.Name,
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to record %s activity: %w", activityType, err)
	}
	return activity, nil
}

// HasTransitionTo reports whether a record already reached toStage
func (s *AuditService) HasTransitionTo(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, toStage string) (bool, error) {
	count, err := s.transitions.CountTo(ctx, entityType, entityID, toStage)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasActivity reports whether an opportunity already has an activity of the type
func (s *AuditService) HasActivity(ctx context.Context, opportunityID uuid.UUID, activityType domain.ActivityType) (bool, error) {
	count, err := s.activities.CountByType(ctx, opportunityID, activityType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTransitions returns the stage history of a record
func (s *AuditService) ListTransitions(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) ([]domain.StageTransition, error) {
	transitions, err := s.transitions.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, classify("list stage transitions", string(entityType), entityID.String(), err)
	}
	return transitions, nil
}

// ListActivities returns the timeline of an opportunity
func (s *AuditService) ListActivities(ctx context.Context, opportunityID uuid.UUID) ([]domain.Activity, error) {
	activities, err := s.activities.ListByOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, classify("list activities", "opportunity", opportunityID.String(), err)
	}
	return activities, nil
}
