package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/console/service"
)

type ExecutionService interface {
	Execute(ctx context.Context, items []service.DirectItem) (int, error)
}

type ExecuteHandler struct {
	service ExecutionService
	logger  *zap.Logger
}

func NewExecuteHandler(s ExecutionService, logger *zap.Logger) *ExecuteHandler {
	return &ExecuteHandler{service: s, logger: logger.Named("execute-handler")}
}

type ExecuteRequest struct {
	Items []service.DirectItem `json:"items"`
}

// Execute POST /v1/execute. Ответ {applied}: частичный успех - не ошибка.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	applied, err := h.service.Execute(r.Context(), req.Items)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}
