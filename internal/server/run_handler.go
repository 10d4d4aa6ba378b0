package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/infra/auth"
	"github.com/xela07ax/devflow-orchestrator/internal/orchestrator"
)

type RunHandler struct {
	core   *orchestrator.Core
	logger *zap.Logger
}

func NewRunHandler(core *orchestrator.Core, logger *zap.Logger) *RunHandler {
	return &RunHandler{core: core, logger: logger.Named("run-handler")}
}

// CreateRunRequest — нормализованное тело запуска прогона.
// Контекст тенанта не принимается из тела: его собирает auth middleware
// из проверенного токена, подменить его клиент не может.
type CreateRunRequest struct {
	WorkflowType domain.WorkflowType `json:"workflow_type"`
	Target       domain.Target       `json:"target"`
	Payload      json.RawMessage     `json:"payload"`
}

// Create запускает новый прогон.
// POST /v1/runs
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	handle, err := h.core.StartRun(r.Context(), tc, req.WorkflowType, req.Target, req.Payload)
	if err != nil {
		h.logger.Warn("run start rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(handle)
}

// Get возвращает внешний статус прогона.
// GET /v1/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.core.GetStatus(r.Context(), id)
	if err != nil {
		h.writeCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Advance продвигает прогон на следующий шаг.
// POST /v1/runs/{id}/advance
func (h *RunHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.core.Advance(r.Context(), id)
	if err != nil {
		h.writeCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel запрашивает отмену прогона. Для активного шага отмена
// кооперативная: зафиксируется на ближайшей границе шага.
// POST /v1/runs/{id}/cancel
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelRequest
	// Тело опционально
	_ = json.NewDecoder(r.Body).Decode(&req)
	reason := req.Reason
	if reason == "" {
		reason = string(domain.ReasonCancelled)
	}

	if err := h.core.Cancel(r.Context(), id, reason); err != nil {
		h.writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type SubmitApprovalRequest struct {
	Scope     []string `json:"scope"`
	PatchHash string   `json:"patch_hash"`
	Comment   string   `json:"comment"`
}

// SubmitApproval фиксирует подтверждение деструктивного шага.
// Подписант берется из токена, не из тела запроса.
// POST /v1/runs/{id}/approvals
func (h *RunHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tc, ok := auth.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SubmitApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
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

	sub := domain.ApprovalSubmission{
		RunID:     id,
		Approver:  tc.Actor.ID,
		Scope:     scope,
		PatchHash: req.PatchHash,
		Comment:   req.Comment,
	}

	status, err := h.core.SubmitApproval(r.Context(), sub)
	if err != nil {
		h.writeCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// writeCoreError транслирует доменные ошибки в HTTP-статусы,
// не раскрывая внутренности для 500-х
func (h *RunHandler) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrRunTerminal):
		http.Error(w, "run already finished", http.StatusConflict)
	case errors.Is(err, domain.ErrApprovalInvalid), errors.Is(err, domain.ErrApprovalMissing):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("run operation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
