package handler

import (
	"net/http"

	"github.com/straye-as/salesflow-api/internal/database"
	"github.com/straye-as/salesflow-api/internal/erp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db     *gorm.DB
	erp    *erp.Client
	logger *zap.Logger
}

// NewHealthHandler accepts a nil ERP client when the integration is disabled
func NewHealthHandler(db *gorm.DB, erpClient *erp.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, erp: erpClient, logger: logger}
}

// Live is the liveness probe
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Ready reports the database and ERP staging connections. Only the database
// is required; an unreachable ERP degrades the service without failing the probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	dbStatus := database.HealthCheck(r.Context(), h.db)
	erpStatus := h.erp.HealthCheck(r.Context())

	status := "healthy"
	code := http.StatusOK
	if dbStatus.Status != "healthy" {
		h.logger.Error("database health check failed", zap.String("error", dbStatus.Error))
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if erpStatus.Status == "unhealthy" {
		status = "degraded"
	}

	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": map[string]interface{}{
			"database": dbStatus,
			"erp":      erpStatus,
		},
	})
}
