package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

type LearningService interface {
	Weights(ctx context.Context, userID string) ([]domain.UserWeight, error)
	Stats(ctx context.Context, policyID int64) ([]domain.PolicyStats, error)
	Recompute(ctx context.Context) (int, error)
}

type LearningHandler struct {
	service LearningService
	logger  *zap.Logger
}

func NewLearningHandler(s LearningService, logger *zap.Logger) *LearningHandler {
	return &LearningHandler{service: s, logger: logger.Named("learning-handler")}
}

// Weights GET /v1/learning/weights?user_id=
func (h *LearningHandler) Weights(w http.ResponseWriter, r *http.Request) {
	weights, err := h.service.Weights(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

// Stats GET /v1/learning/stats?policy_id=
func (h *LearningHandler) Stats(w http.ResponseWriter, r *http.Request) {
	policyID, err := queryInt(r.URL.Query().Get("policy_id"), "policy_id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), policyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Recompute POST /v1/learning/recompute
func (h *LearningHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Recompute(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pairs": n})
}
