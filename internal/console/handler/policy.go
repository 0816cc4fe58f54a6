package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

type PolicyService interface {
	GetByID(ctx context.Context, id int64) (*domain.Policy, error)
	GetAll(ctx context.Context) ([]domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
	Delete(ctx context.Context, id int64) error
	AddExceptions(ctx context.Context, text string, scope map[string]any) ([]int64, error)
}

type PolicyHandler struct {
	service PolicyService
	logger  *zap.Logger
}

func NewPolicyHandler(s PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{service: s, logger: logger.Named("policy-handler")}
}

// Get возвращает детали конкретной политики по её ID.
// GET /v1/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	policy, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// List возвращает все политики, включая выключенные
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.GetAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

// Create POST /v1/policies. Условие проверяется до записи.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p domain.Policy
	if err := decode(r, w, &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p.ID = 0
	p.Fingerprint = ""

	if err := h.service.Create(r.Context(), &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Update PUT /v1/policies/{id}
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var p domain.Policy
	if err := decode(r, w, &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p.ID = id

	if err := h.service.Update(r.Context(), &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete удаляет политику и инициирует инвалидацию кэша
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ExceptionsRequest struct {
	Text          string         `json:"text"`
	ScopeFeatures map[string]any `json:"scope_features"`
}

type ExceptionsResponse struct {
	OK        bool    `json:"ok"`
	PolicyIDs []int64 `json:"policy_ids"`
}

// Exceptions POST /v1/policies/exceptions
func (h *PolicyHandler) Exceptions(w http.ResponseWriter, r *http.Request) {
	var req ExceptionsRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ids, err := h.service.AddExceptions(r.Context(), req.Text, req.ScopeFeatures)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ExceptionsResponse{OK: true, PolicyIDs: ids})
}
