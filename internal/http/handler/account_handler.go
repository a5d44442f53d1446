package handler

import (
	"net/http"

	"github.com/straye-as/salesflow-api/internal/mapper"
	"github.com/straye-as/salesflow-api/internal/service"
	"go.uber.org/zap"
)

type AccountHandler struct {
	accountService *service.AccountService
	logger         *zap.Logger
}

func NewAccountHandler(accountService *service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, logger: logger}
}

// @Summary Get account
// @Description Accounts are provisioned by lead conversion and opportunity approval
// @Tags Accounts
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} domain.OrganizationDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /accounts/{id} [get]
func (h *AccountHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "account")
	if !ok {
		return
	}
	org, err := h.accountService.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get account", err)
		return
	}
	respondJSON(w, http.StatusOK, mapper.ToOrganizationDTO(org))
}
