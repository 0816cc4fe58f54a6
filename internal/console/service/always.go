package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/synth"
)

// AlwaysService "always do this": одобряет действие (если оно еще ждет решения)
// и превращает его стабильные признаки в выученную политику.
type AlwaysService struct {
	store    ProposalStore
	reviews  *ReviewService
	policies *PolicyService
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewAlwaysService(store ProposalStore, reviews *ReviewService, policies *PolicyService, metrics *engine.Metrics, logger *zap.Logger) *AlwaysService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &AlwaysService{
		store:    store,
		reviews:  reviews,
		policies: policies,
		metrics:  metrics,
		logger:   logger.Named("always-service"),
	}
}

// AlwaysDoThis возвращает ID выученной политики. Решение пользователя - одобрение, поэтому
// действие, упавшее при исполнении (hold, ошибка ящика), тоже обучает. Повтор вызова
// возвращает ту же политику. Конфликт состояния только у отклоненного действия.
func (s *AlwaysService) AlwaysDoThis(ctx context.Context, reviewer string, actionID int64, features map[string]any) (int64, error) {
	a, err := s.store.GetProposal(ctx, actionID)
	if err != nil {
		return 0, err
	}

	if a.Status == domain.StatusProposed {
		done, ok, err := s.reviews.review(ctx, reviewer, actionID, domain.StatusApproved)
		if err != nil {
			return 0, err
		}
		if ok {
			a = done
		} else if a, err = s.store.GetProposal(ctx, actionID); err != nil {
			// Параллельное решение успело раньше
			return 0, err
		}
	}

	switch a.Status {
	case domain.StatusApproved, domain.StatusExecuted:
	case domain.StatusFailed:
		// failed достижим только из approved
		s.logger.Warn("learning from action that failed to execute",
			zap.Int64("action_id", actionID),
			zap.Stringp("error", a.Error))
	default:
		return 0, &domain.StateConflictError{From: a.Status, To: domain.StatusApproved}
	}

	p, err := synth.Learned(a, features)
	if err != nil {
		s.metrics.ErrorTotal.WithLabelValues("synth").Inc()
		return 0, err
	}
	id, _, err := s.policies.Adopt(ctx, p)
	if err != nil {
		return 0, err
	}

	s.logger.Info("learned policy from action",
		zap.Int64("action_id", actionID),
		zap.Int64("policy_id", id),
		zap.String("reviewer", reviewer))
	return id, nil
}
