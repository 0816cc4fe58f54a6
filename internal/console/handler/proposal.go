package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/console/service"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/infra/auth"
	"github.com/xela07ax/inboxpilot/internal/repository/sqldb"
)

// ProposalService Описываем, что нам нужно от сервиса предложений
type ProposalService interface {
	Propose(ctx context.Context, userID string, items []service.Item) ([]*domain.ProposedAction, error)
	Preview(ctx context.Context, userID string, items []service.Item) ([]*domain.ProposedAction, error)
	Get(ctx context.Context, id int64) (*domain.ProposedAction, error)
	List(ctx context.Context, f sqldb.ProposalFilter) ([]*domain.ProposedAction, error)
}

type ReviewService interface {
	Approve(ctx context.Context, reviewer string, ids []int64) (service.ReviewResult, error)
	Reject(ctx context.Context, reviewer string, ids []int64) (service.ReviewResult, error)
}

type AlwaysService interface {
	AlwaysDoThis(ctx context.Context, reviewer string, actionID int64, features map[string]any) (int64, error)
}

type ProposalHandler struct {
	proposals ProposalService
	reviews   ReviewService
	always    AlwaysService
	logger    *zap.Logger
}

func NewProposalHandler(p ProposalService, r ReviewService, a AlwaysService, logger *zap.Logger) *ProposalHandler {
	return &ProposalHandler{proposals: p, reviews: r, always: a, logger: logger.Named("proposal-handler")}
}

type ProposeRequest struct {
	UserID string         `json:"user_id"`
	Items  []service.Item `json:"items"`
}

type IDsRequest struct {
	IDs []int64 `json:"ids"`
}

type AlwaysRequest struct {
	ActionID          int64          `json:"action_id"`
	RationaleFeatures map[string]any `json:"rationale_features"`
}

type AlwaysResponse struct {
	OK       bool  `json:"ok"`
	PolicyID int64 `json:"policy_id"`
}

// Propose POST /v1/proposals
func (h *ProposalHandler) Propose(w http.ResponseWriter, r *http.Request) {
	h.match(w, r, h.proposals.Propose, http.StatusCreated)
}

// Preview POST /v1/proposals/preview
func (h *ProposalHandler) Preview(w http.ResponseWriter, r *http.Request) {
	h.match(w, r, h.proposals.Preview, http.StatusOK)
}

func (h *ProposalHandler) match(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, string, []service.Item) ([]*domain.ProposedAction, error),
	status int,
) {
	var req ProposeRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = auth.UserID(r.Context())
	}

	actions, err := fn(r.Context(), userID, req.Items)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, actions)
}

// List GET /v1/proposals?status=&item_id=&user_id=&after_id=&limit=
func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := sqldb.ProposalFilter{
		Status: domain.ActionStatus(q.Get("status")),
		ItemID: q.Get("item_id"),
		UserID: q.Get("user_id"),
	}
	var err error
	if f.AfterID, err = queryInt(q.Get("after_id"), "after_id"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f.Limit = int(limit)

	list, err := h.proposals.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get GET /v1/proposals/{id}
func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.proposals.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Approve POST /v1/proposals/approve
func (h *ProposalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.reviews.Approve)
}

// Reject POST /v1/proposals/reject
func (h *ProposalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.reviews.Reject)
}

func (h *ProposalHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, string, []int64) (service.ReviewResult, error),
) {
	var req IDsRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := fn(r.Context(), auth.UserID(r.Context()), req.IDs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Always POST /v1/proposals/always
func (h *ProposalHandler) Always(w http.ResponseWriter, r *http.Request) {
	var req AlwaysRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.ActionID <= 0 {
		writeError(w, r, h.logger, &domain.ValidationError{Field: "action_id", Reason: "is required"})
		return
	}

	policyID, err := h.always.AlwaysDoThis(r.Context(), auth.UserID(r.Context()), req.ActionID, req.RationaleFeatures)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AlwaysResponse{OK: true, PolicyID: policyID})
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

func queryInt(raw, field string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, &domain.ValidationError{Field: field, Reason: "must be a non-negative integer"}
	}
	return n, nil
}
