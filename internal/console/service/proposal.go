package service

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/inboxpilot/internal/audit"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/policy"
	"github.com/xela07ax/inboxpilot/internal/repository/sqldb"
)

// DefaultUserID владелец предложений, если вызывающий не назвался
const DefaultUserID = "anonymous"

// ProposalStore описывает требования сервисов к хранилищу предложений
type ProposalStore interface {
	CreateProposals(ctx context.Context, actions []*domain.ProposedAction) error
	GetProposal(ctx context.Context, id int64) (*domain.ProposedAction, error)
	ListProposals(ctx context.Context, f sqldb.ProposalFilter) ([]*domain.ProposedAction, error)
	TransitionStatus(ctx context.Context, id int64, t sqldb.Transition) (*domain.ProposedAction, bool, error)
}

// PolicyMatcher кэш политик в памяти (policy.Matcher)
type PolicyMatcher interface {
	Match(features map[string]any, weights map[string]float64, now time.Time) (*policy.Match, bool)
}

// WeightSource выученные веса пользователя (learning.Loop)
type WeightSource interface {
	Weights(ctx context.Context, userID string) (map[string]float64, error)
}

// Item одно письмо: только ID и снимок признаков от слоя ингеста
type Item struct {
	ItemID   string         `json:"item_id"`
	Features map[string]any `json:"features"`
}

type ProposalService struct {
	store   ProposalStore
	matcher PolicyMatcher
	weights WeightSource
	auditor audit.Auditor
	metrics *engine.Metrics
	workers int
	now     func() time.Time
	logger  *zap.Logger
}

func NewProposalService(
	store ProposalStore,
	matcher PolicyMatcher,
	weights WeightSource,
	auditor audit.Auditor,
	metrics *engine.Metrics,
	logger *zap.Logger,
) *ProposalService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &ProposalService{
		store:   store,
		matcher: matcher,
		weights: weights,
		auditor: auditor,
		metrics: metrics,
		workers: runtime.GOMAXPROCS(0),
		now:     time.Now,
		logger:  logger.Named("proposal-service"),
	}
}

// Propose прогоняет письма через матчер и сохраняет предложения одной транзакцией.
// Письма без совпадения предложений не дают. Порядок результата совпадает с порядком items.
func (s *ProposalService) Propose(ctx context.Context, userID string, items []Item) ([]*domain.ProposedAction, error) {
	actions, err := s.match(ctx, userID, items)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return actions, nil
	}

	// 1. Authoritative write: без нее вызов неуспешен
	if err := s.store.CreateProposals(ctx, actions); err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}

	// 2. Best-effort аудит, не блокирует ответ
	entries := make([]domain.AuditEntry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, audit.EntryFor(a, domain.StatusProposed))
		s.metrics.ProposalsTotal.WithLabelValues(string(a.Action)).Inc()
	}
	s.auditor.Log(entries...)

	s.logger.Info("actions proposed",
		zap.String("user_id", userID),
		zap.Int("items", len(items)),
		zap.Int("proposed", len(actions)))
	return actions, nil
}

// Preview то же сопоставление без записи: ID нет, аудит не пишется
func (s *ProposalService) Preview(ctx context.Context, userID string, items []Item) ([]*domain.ProposedAction, error) {
	return s.match(ctx, userID, items)
}

func (s *ProposalService) match(ctx context.Context, userID string, items []Item) ([]*domain.ProposedAction, error) {
	if len(items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for i, it := range items {
		if strings.TrimSpace(it.ItemID) == "" {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].item_id", i), Reason: "is required"}
		}
	}
	if userID == "" {
		userID = DefaultUserID
	}

	weights, err := s.weights.Weights(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Один момент времени на всю пачку: повторный прогон дает тот же набор
	now := s.now()
	slots := make([]*domain.ProposedAction, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, ok := s.matcher.Match(items[i].Features, weights, now)
			if ok {
				slots[i] = proposalFrom(userID, items[i], m, now)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*domain.ProposedAction, 0, len(items))
	for _, a := range slots {
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func proposalFrom(userID string, it Item, m *policy.Match, now time.Time) *domain.ProposedAction {
	policyID := m.Policy.ID
	return &domain.ProposedAction{
		ItemID:     it.ItemID,
		UserID:     userID,
		Action:     m.Policy.Action,
		Params:     m.Policy.Params,
		Confidence: m.Confidence,
		Rationale: domain.Rationale{
			Features:      it.Features,
			Narrative:     narrative(m),
			MatchedTokens: m.Tokens,
		},
		PolicyID:  &policyID,
		Status:    domain.StatusProposed,
		CreatedAt: now.UTC(),
	}
}

func narrative(m *policy.Match) string {
	s := fmt.Sprintf("policy %q (priority %d) matched; confidence %.2f >= threshold %.2f",
		m.Policy.Name, m.Policy.Priority, m.Confidence, m.Policy.ConfidenceThreshold)
	if len(m.Tokens) > 0 {
		s += "; matched: " + strings.Join(m.Tokens, ", ")
	}
	return s
}

func (s *ProposalService) Get(ctx context.Context, id int64) (*domain.ProposedAction, error) {
	return s.store.GetProposal(ctx, id)
}

// List очередь ревью и история; пустой статус - все
func (s *ProposalService) List(ctx context.Context, f sqldb.ProposalFilter) ([]*domain.ProposedAction, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(f.Status)}
	}
	return s.store.ListProposals(ctx, f)
}
