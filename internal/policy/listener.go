package policy

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/infra"
)

// Sync держит кэш матчера согласованным между инстансами через Redis Pub/Sub.
// Без Redis (rdb == nil) работает только локальный Refresh.
type Sync struct {
	matcher *Matcher
	rdb     *redis.Client
	metrics *engine.Metrics
	logger  *zap.Logger
}

func NewSync(matcher *Matcher, rdb *redis.Client, metrics *engine.Metrics, logger *zap.Logger) *Sync {
	return &Sync{
		matcher: matcher,
		rdb:     rdb,
		metrics: metrics,
		logger:  logger.Named("policy-sync"),
	}
}

// Refresh перечитывает политики в локальный кэш
func (s *Sync) Refresh(ctx context.Context) error {
	if err := s.matcher.Refresh(ctx); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PolicyCacheSize.Set(float64(len(s.matcher.Policies())))
	}
	return nil
}

// Changed вызывается после записи политики: обновляет свой кэш и будит остальные инстансы.
// Ошибка публикации не фатальна, другие инстансы догонят при переподключении.
func (s *Sync) Changed(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if s.rdb == nil {
		return nil
	}
	// Сигнал простой "refresh": получатель перечитывает всю таблицу
	if err := s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err(); err != nil {
		s.logger.Warn("policy update signal failed", zap.Error(err))
	}
	return nil
}

// Listen блокирующий цикл подписки, запускать в отдельной горутине
func (s *Sync) Listen(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	engine.ListenResilient(ctx, s.rdb, s.logger, infra.RedisChanPolicyUpdate,
		s.Refresh,
		func(ctx context.Context, _ string) {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("policy refresh failed", zap.Error(err))
			}
		},
	)
}
