package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/devflow-orchestrator/internal/console/service"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

type PolicyHandler struct {
	service *service.PolicyService
}

func NewPolicyHandler(s *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// Get возвращает документ политик конкретного тенанта.
// GET /v1/policies/{tenantID}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		http.Error(w, "Tenant ID is required", http.StatusBadRequest)
		return
	}

	doc, err := h.service.GetByTenant(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "Failed to retrieve policy document", http.StatusInternalServerError)
		return
	}

	// Если документа нет (nil), возвращаем 404
	if doc == nil {
		http.Error(w, "Policy document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		http.Error(w, "Encoding error", http.StatusInternalServerError)
	}
}

// List возвращает документы всех тенантов для админки
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.GetAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch policy documents", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}

// Upsert сохраняет документ тенанта целиком (создание и редактирование)
func (h *PolicyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var doc domain.PolicyDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	doc.TenantID = tenantID

	if err := h.service.Upsert(r.Context(), &doc); err != nil {
		// Ошибка валидации — вина клиента, остальное скрываем
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete удаляет документ и инициирует инвалидацию кэша
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.service.Delete(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
