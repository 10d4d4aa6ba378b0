package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/infra/auth"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetApprovals(ctx context.Context, status string) ([]*domain.ApprovalRequest, error)
	DecideApproval(ctx context.Context, id string, approved bool, scope []domain.ApprovalAction, reviewer, comment string) error
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	approval, err := h.service.GetApproval(r.Context(), id)
	if err != nil {
		http.Error(w, "approval request not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approval)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status") // Достаем из ?status=...
	if status == "" {
		status = "PENDING" // Дефолт для удобства админки
	}

	list, err := h.service.GetApprovals(r.Context(), status)
	if err != nil {
		http.Error(w, "Failed to fetch approvals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type DecideRequest struct {
	Approved bool     `json:"approved"`
	Scope    []string `json:"scope"`
	Comment  string   `json:"comment"`
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// ReviewerID берем из токена (авторизованный оператор)
	tc, ok := auth.TenantFromContext(r.Context())
	if !ok || tc.Actor.ID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scope := make([]domain.ApprovalAction, 0, len(req.Scope))
	for _, raw := range req.Scope {
		action, err := domain.ParseApprovalAction(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = append(scope, action)
	}

	err := h.service.DecideApproval(r.Context(), id, req.Approved, scope, tc.Actor.ID, req.Comment)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			http.Error(w, "approval request already processed", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to process decision", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
