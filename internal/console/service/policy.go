package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/condition"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/synth"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicyByID(ctx context.Context, id int64) (*domain.Policy, error)
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
	CreatePolicy(ctx context.Context, p *domain.Policy) error
	UpdatePolicy(ctx context.Context, p *domain.Policy) error
	DeletePolicy(ctx context.Context, id int64) error
	CreateOrGetByFingerprint(ctx context.Context, p *domain.Policy) (int64, bool, error)
}

// CacheNotifier инвалидация кэша матчеров (policy.Sync)
type CacheNotifier interface {
	Changed(ctx context.Context) error
}

type PolicyService struct {
	repo    PolicyRepository
	cache   CacheNotifier
	metrics *engine.Metrics
	logger  *zap.Logger
}

func NewPolicyService(repo PolicyRepository, cache CacheNotifier, metrics *engine.Metrics, logger *zap.Logger) *PolicyService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &PolicyService{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger.Named("policy-service"),
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id int64) (*domain.Policy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

// GetAll возвращает все политики, включая выключенные
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.Policy, error) {
	return s.repo.ListPolicies(ctx)
}

// Create проверяет и сохраняет политику, затем уведомляет матчеры
func (s *PolicyService) Create(ctx context.Context, p *domain.Policy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	if p.Origin == "" {
		p.Origin = domain.OriginManual
	}
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.logger.Info("policy created", zap.Int64("policy_id", p.ID), zap.String("name", p.Name))
	s.notifyUpdate(ctx)
	return nil
}

// Update перезаписывает политику. Отпечаток синтезированной политики не меняется.
func (s *PolicyService) Update(ctx context.Context, p *domain.Policy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	s.notifyUpdate(ctx)
	return nil
}

// Delete удаляет политику, история предложений остается
func (s *PolicyService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	s.notifyUpdate(ctx)
	return nil
}

// Adopt сохраняет синтезированную политику. Повтор с тем же отпечатком сливается с существующей.
func (s *PolicyService) Adopt(ctx context.Context, p *domain.Policy) (int64, bool, error) {
	if err := validatePolicy(p); err != nil {
		return 0, false, err
	}
	id, created, err := s.repo.CreateOrGetByFingerprint(ctx, p)
	if err != nil {
		return 0, false, err
	}
	s.logger.Info("synthesized policy adopted",
		zap.Int64("policy_id", id),
		zap.String("origin", string(p.Origin)),
		zap.Bool("created", created))
	s.notifyUpdate(ctx)
	return id, created, nil
}

// AddExceptions превращает фразы "... unless ..." в keep-политики.
// scope (например category) добавляется в каждое условие через AND.
func (s *PolicyService) AddExceptions(ctx context.Context, text string, scope map[string]any) ([]int64, error) {
	policies, err := synth.Exceptions(text, scope)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(policies))
	for _, p := range policies {
		id, _, err := s.repo.CreateOrGetByFingerprint(ctx, p)
		if err != nil {
			return ids, fmt.Errorf("exception policy %q: %w", p.Name, err)
		}
		ids = append(ids, id)
	}
	s.logger.Info("exception policies adopted", zap.Int("count", len(ids)))
	s.notifyUpdate(ctx)
	return ids, nil
}

// Seed добавляет стартовые политики, которых еще нет (сравнение по отпечатку).
// Выключенные оператором seed-политики остаются выключенными.
func (s *PolicyService) Seed(ctx context.Context, seeds []domain.Policy) (int, error) {
	existing, err := s.repo.ListPolicies(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		if p.Fingerprint != "" {
			known[p.Fingerprint] = struct{}{}
		}
	}

	created := 0
	for i := range seeds {
		p := seeds[i]
		if p.Fingerprint, err = synth.Fingerprint(p.Condition, p.Action, p.Params); err != nil {
			return created, fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		if _, ok := known[p.Fingerprint]; ok {
			continue
		}
		if p.Origin == "" {
			p.Origin = domain.OriginSeed
		}
		if err := s.repo.CreatePolicy(ctx, &p); err != nil {
			return created, fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		known[p.Fingerprint] = struct{}{}
		created++
	}

	s.logger.Info("seed policies applied", zap.Int("total", len(seeds)), zap.Int("created", created))
	if created > 0 {
		s.notifyUpdate(ctx)
	}
	return created, nil
}

// notifyUpdate перечитывает свой кэш и шлет сигнал остальным инстансам.
// Запись в БД уже прошла, поэтому сбой только логируется.
func (s *PolicyService) notifyUpdate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Changed(ctx); err != nil {
		s.metrics.ErrorTotal.WithLabelValues("notify").Inc()
		s.logger.Warn("policy cache refresh failed", zap.Error(err))
	}
}

func validatePolicy(p *domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := condition.Parse(p.Condition); err != nil {
		return err
	}
	return nil
}
