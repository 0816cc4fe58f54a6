package service

/*
Файл review.go реализует шлюз ревью: approve/reject пачкой по ID.

- Каждый ID независим: частичный успех нормален, updated считает только реальные переходы.
- Переход условный (WHERE status = 'proposed'), поэтому повторный approve того же ID ничего не делает
  и не применяет обучение второй раз.
- После успешного approve действие сразу исполняется и переводится в executed|failed.
- Аудит, обучение и исполнение деградируют мягко: ошибки логируются и считаются.
*/

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/audit"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/executor"
	"github.com/xela07ax/inboxpilot/internal/learning"
	"github.com/xela07ax/inboxpilot/internal/repository/sqldb"
)

// Learner обратная связь для learning.Loop
type Learner interface {
	Feedback(ctx context.Context, a *domain.ProposedAction, outcome learning.Outcome) error
}

// Executor исполнитель одобренных действий (executor.Dispatcher)
type Executor interface {
	Execute(ctx context.Context, req executor.Request) error
}

// ReviewResult ответ на пакетное решение
type ReviewResult struct {
	Updated int                 `json:"updated"`
	Status  domain.ActionStatus `json:"status"`
}

type ReviewService struct {
	store    ProposalStore
	learner  Learner
	executor Executor
	auditor  audit.Auditor
	metrics  *engine.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

func NewReviewService(
	store ProposalStore,
	learner Learner,
	exec Executor,
	auditor audit.Auditor,
	metrics *engine.Metrics,
	logger *zap.Logger,
) *ReviewService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &ReviewService{
		store:    store,
		learner:  learner,
		executor: exec,
		auditor:  auditor,
		metrics:  metrics,
		now:      time.Now,
		logger:   logger.Named("review-service"),
	}
}

// Approve одобряет и исполняет действия. ID не в статусе proposed (и несуществующие) пропускаются.
func (s *ReviewService) Approve(ctx context.Context, reviewer string, ids []int64) (ReviewResult, error) {
	return s.decide(ctx, reviewer, ids, domain.StatusApproved)
}

// Reject отклоняет действия, исполнения нет
func (s *ReviewService) Reject(ctx context.Context, reviewer string, ids []int64) (ReviewResult, error) {
	return s.decide(ctx, reviewer, ids, domain.StatusRejected)
}

func (s *ReviewService) decide(ctx context.Context, reviewer string, ids []int64, to domain.ActionStatus) (ReviewResult, error) {
	res := ReviewResult{Status: to}
	if len(ids) == 0 {
		return res, &domain.ValidationError{Field: "ids", Reason: "must not be empty"}
	}

	for _, id := range ids {
		_, ok, err := s.review(ctx, reviewer, id, to)
		if err != nil {
			return res, err
		}
		if ok {
			res.Updated++
		}
	}

	s.logger.Info("review batch applied",
		zap.String("reviewer", reviewer),
		zap.String("status", string(to)),
		zap.Int("requested", len(ids)),
		zap.Int("updated", res.Updated))
	return res, nil
}

// review один переход proposed -> to со всеми побочными эффектами.
// ok=false: действие уже не в proposed, это не ошибка.
func (s *ReviewService) review(ctx context.Context, reviewer string, id int64, to domain.ActionStatus) (*domain.ProposedAction, bool, error) {
	a, ok, err := s.store.TransitionStatus(ctx, id, sqldb.Transition{
		From:       domain.StatusProposed,
		To:         to,
		ReviewedBy: reviewer,
		At:         s.now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("review action %d: %w", id, err)
	}
	if !ok {
		s.logger.Debug("action is not pending review, skipped", zap.Int64("action_id", id))
		return nil, false, nil
	}

	s.auditor.Log(audit.EntryFor(a, to))
	s.metrics.ReviewsTotal.WithLabelValues(string(to)).Inc()

	outcome := learning.Reject
	if to == domain.StatusApproved {
		outcome = learning.Approve
	}
	if err := s.learner.Feedback(ctx, a, outcome); err != nil {
		s.metrics.ErrorTotal.WithLabelValues("learning").Inc()
		s.logger.Error("learning feedback failed", zap.Int64("action_id", id), zap.Error(err))
	}

	if to != domain.StatusApproved {
		return a, true, nil
	}
	done, err := s.execute(ctx, a)
	if err != nil {
		return nil, false, err
	}
	return done, true, nil
}

// execute исполняет одобренное действие и фиксирует результат. Неудача исполнения
// не ошибка вызова: действие становится failed, пачка продолжается.
func (s *ReviewService) execute(ctx context.Context, a *domain.ProposedAction) (*domain.ProposedAction, error) {
	execErr := s.executor.Execute(ctx, executor.Request{
		ItemID:   a.ItemID,
		UserID:   a.UserID,
		Action:   a.Action,
		Params:   a.Params,
		Features: a.Rationale.Features,
	})

	t := sqldb.Transition{From: domain.StatusApproved, To: domain.StatusExecuted, At: s.now()}
	result := "success"
	if execErr != nil {
		t.To = domain.StatusFailed
		t.Error = execErr.Error()
		result = "failure"
	}
	s.metrics.ExecutionsTotal.WithLabelValues(string(a.Action), result).Inc()

	done, ok, err := s.store.TransitionStatus(ctx, a.ID, t)
	if err != nil {
		return nil, fmt.Errorf("record execution of action %d: %w", a.ID, err)
	}
	if !ok {
		// Кто-то уже зафиксировал результат
		return a, nil
	}
	s.auditor.Log(audit.EntryFor(done, t.To))
	return done, nil
}
