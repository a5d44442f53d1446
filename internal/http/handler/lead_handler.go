package handler

import (
	"net/http"
	"strconv"

	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"go.uber.org/zap"
)

type LeadHandler struct {
	leadService *service.LeadService
	logger      *zap.Logger
}

func NewLeadHandler(leadService *service.LeadService, logger *zap.Logger) *LeadHandler {
	return &LeadHandler{leadService: leadService, logger: logger}
}

// @Summary List leads
// @Tags Leads
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Param stage query string false "Filter by stage"
// @Param converted query bool false "Filter by conversion state"
// @Param q query string false "Search company, contact or e-mail"
// @Success 200 {object} domain.PaginatedResponse
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads [get]
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	filters := &domain.LeadFilters{Search: r.URL.Query().Get("q")}
	if s := r.URL.Query().Get("stage"); s != "" {
		stage := domain.LeadStage(s)
		filters.Stage = &stage
	}
	if c := r.URL.Query().Get("converted"); c != "" {
		if converted, err := strconv.ParseBool(c); err == nil {
			filters.IsConverted = &converted
		}
	}

	result, err := h.leadService.List(r.Context(), page, pageSize, filters)
	if err != nil {
		respondServiceError(w, h.logger, "list leads", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// @Summary Create lead
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body domain.CreateLeadRequest true "Lead data"
// @Success 201 {object} domain.LeadDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads [post]
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req domain.CreateLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lead, err := h.leadService.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, "create lead", err)
		return
	}

	w.Header().Set("Location", "/api/v1/leads/"+lead.ID.String())
	respondJSON(w, http.StatusCreated, lead)
}

// @Summary Submit lead from an external form
// @Description Reuses an open lead with the same e-mail instead of creating a duplicate
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body domain.IntakeLeadRequest true "Submission"
// @Success 201 {object} domain.LeadDTO
// @Success 200 {object} domain.LeadDTO
// @Security ApiKeyAuth
// @Router /leads/intake [post]
func (h *LeadHandler) Intake(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req domain.IntakeLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lead, created, err := h.leadService.Intake(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, "submit lead", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/api/v1/leads/"+lead.ID.String())
	}
	respondJSON(w, status, lead)
}

// @Summary Get lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} domain.LeadDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id} [get]
func (h *LeadHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "lead")
	if !ok {
		return
	}
	lead, err := h.leadService.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get lead", err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// @Summary Update lead
// @Description Company and contact identity cannot change after conversion
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.UpdateLeadRequest true "Lead data"
// @Success 200 {object} domain.LeadDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id} [put]
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "lead")
	if !ok {
		return
	}
	var req domain.UpdateLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lead, err := h.leadService.Update(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "update lead", err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// @Summary Change lead stage
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.ChangeLeadStageRequest true "Stage"
// @Success 200 {object} domain.LeadDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id}/stage [put]
func (h *LeadHandler) ChangeStage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "lead")
	if !ok {
		return
	}
	var req domain.ChangeLeadStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lead, err := h.leadService.ChangeStage(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "change lead stage", err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// @Summary Convert lead
// @Description Creates an inactive account and an opportunity at the first pipeline stage
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.ConvertLeadRequest true "Conversion data"
// @Success 201 {object} domain.ConvertLeadResponse
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id}/convert [post]
func (h *LeadHandler) Convert(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "lead")
	if !ok {
		return
	}
	var req domain.ConvertLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	oppID, err := h.leadService.Convert(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "convert lead", err)
		return
	}

	w.Header().Set("Location", "/api/v1/opportunities/"+oppID.String())
	respondJSON(w, http.StatusCreated, domain.ConvertLeadResponse{OpportunityID: oppID})
}

// @Summary Delete lead
// @Tags Leads
// @Param id path string true "Lead ID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id} [delete]
func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "lead")
	if !ok {
		return
	}

	if err := h.leadService.Delete(r.Context(), actor, id); err != nil {
		respondServiceError(w, h.logger, "delete lead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
