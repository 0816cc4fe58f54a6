package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HoldService стоп-кран исполнения (engine.HoldManager)
type HoldService interface {
	Set(ctx context.Context, subject string, on bool) error
	List() []string
}

type HoldHandler struct {
	service HoldService
	logger  *zap.Logger
}

func NewHoldHandler(s HoldService, logger *zap.Logger) *HoldHandler {
	return &HoldHandler{service: s, logger: logger.Named("hold-handler")}
}

func (h *HoldHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"holds": h.service.List()})
}

// Hold PUT /v1/holds/{subject}: user_id или "*" для всех
func (h *HoldHandler) Hold(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, true)
}

func (h *HoldHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, false)
}

func (h *HoldHandler) set(w http.ResponseWriter, r *http.Request, on bool) {
	subject := chi.URLParam(r, "subject")
	if err := h.service.Set(r.Context(), subject, on); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("hold updated", zap.String("subject", subject), zap.Bool("on", on))
	w.WriteHeader(http.StatusNoContent)
}
