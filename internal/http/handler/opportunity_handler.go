package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"go.uber.org/zap"
)

type OpportunityHandler struct {
	pipelineService *service.PipelineService
	quoteService    *service.QuoteService
	logger          *zap.Logger
}

func NewOpportunityHandler(pipelineService *service.PipelineService, quoteService *service.QuoteService, logger *zap.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		pipelineService: pipelineService,
		quoteService:    quoteService,
		logger:          logger,
	}
}

// @Summary List opportunities
// @Tags Opportunities
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Param stage query string false "Filter by stage"
// @Param status query string false "Filter by status (open, won, lost)"
// @Param accountId query string false "Filter by account ID"
// @Success 200 {object} domain.PaginatedResponse
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities [get]
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	filters := &domain.OpportunityFilters{}
	if s := r.URL.Query().Get("stage"); s != "" {
		stage := domain.OpportunityStage(s)
		filters.Stage = &stage
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OpportunityStatus(s)
		filters.Status = &status
	}
	if a := r.URL.Query().Get("accountId"); a != "" {
		if id, err := uuid.Parse(a); err == nil {
			filters.AccountID = &id
		}
	}

	result, err := h.pipelineService.List(r.Context(), page, pageSize, filters)
	if err != nil {
		respondServiceError(w, h.logger, "list opportunities", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// @Summary Create opportunity
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param request body domain.CreateOpportunityRequest true "Opportunity data"
// @Success 201 {object} domain.OpportunityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities [post]
func (h *OpportunityHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req domain.CreateOpportunityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	opp, err := h.pipelineService.CreateOpportunity(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, "create opportunity", err)
		return
	}

	w.Header().Set("Location", "/api/v1/opportunities/"+opp.ID.String())
	respondJSON(w, http.StatusCreated, opp)
}

// @Summary Get opportunity
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {object} domain.OpportunityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id} [get]
func (h *OpportunityHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	opp, err := h.pipelineService.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get opportunity", err)
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Suggested next stages
// @Description Presentation hint only; any non-terminal stage is accepted when its gate is satisfied
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {array} string
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/next-stages [get]
func (h *OpportunityHandler) SuggestedNextStages(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	stages, err := h.pipelineService.SuggestedNextStages(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get suggested stages", err)
		return
	}
	respondJSON(w, http.StatusOK, stages)
}

// @Summary Transition opportunity stage
// @Description The request must carry the gate data required by the target stage
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.TransitionStageRequest true "Target stage and gate data"
// @Success 200 {object} domain.OpportunityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/transition [post]
func (h *OpportunityHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	var req domain.TransitionStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	opp, err := h.pipelineService.TransitionStage(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "transition opportunity", err)
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Approve opportunity
// @Description Closes the opportunity as won and provisions its account; safe to repeat
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.ApproveOpportunityRequest false "Expected version"
// @Success 200 {object} domain.ApprovalResultDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/approve [post]
func (h *OpportunityHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	req := domain.ApproveOpportunityRequest{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.pipelineService.Approve(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "approve opportunity", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// @Summary Opportunity stage history
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {array} domain.StageTransitionDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/history [get]
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	history, err := h.pipelineService.History(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get opportunity history", err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// @Summary Opportunity timeline
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {array} domain.ActivityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/activities [get]
func (h *OpportunityHandler) Activities(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	activities, err := h.pipelineService.Activities(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get opportunity activities", err)
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

// @Summary Quotes of an opportunity
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {array} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/quotes [get]
func (h *OpportunityHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "opportunity")
	if !ok {
		return
	}
	quotes, err := h.quoteService.ListByOpportunity(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "list quotes", err)
		return
	}
	respondJSON(w, http.StatusOK, quotes)
}
