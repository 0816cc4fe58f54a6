package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

type AuditService interface {
	FetchLogs(ctx context.Context, itemID string, limit int64) ([]domain.AuditEntry, error)
	Replay(ctx context.Context) (int, error)
}

type AuditHandler struct {
	service AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-handler")}
}

// GetLogs возвращает историю письма из аудит-индекса
// GET /v1/audit?item_id=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	logs, err := h.service.FetchLogs(r.Context(), r.URL.Query().Get("item_id"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// Replay POST /v1/audit/replay
func (h *AuditHandler) Replay(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Replay(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": n})
}
