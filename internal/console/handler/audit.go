package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/devflow-orchestrator/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetRunTrail возвращает след аудита конкретного прогона
// GET /v1/audit?run_id=...
func (h *AuditHandler) GetRunTrail(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	events, err := h.service.FetchRunTrail(r.Context(), runID)
	if err != nil {
		http.Error(w, "Failed to fetch audit trail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
