package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunOnce выполняет fn только на одном инстансе из нескольких: распределенная блокировка SetNX.
// Используется для загрузки seed-политик при старте и для фоновых задач по cron.
// Без Redis (rdb == nil) fn выполняется локально.
func RunOnce(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	lockKey string,
	ttl time.Duration,
	fn func(ctx context.Context) error,
) (bool, error) {
	if rdb == nil {
		return true, fn(ctx)
	}

	ok, err := rdb.SetNX(ctx, lockKey, "processing", ttl).Result()
	if err != nil {
		// Redis недоступен: задачи идемпотентны, выполняем без блокировки
		logger.Warn("lock unavailable, running without it", zap.String("key", lockKey), zap.Error(err))
		return true, fn(ctx)
	}
	if !ok {
		logger.Debug("another instance holds the lock", zap.String("key", lockKey))
		return false, nil
	}
	defer func() {
		// Освобождаем заранее, чтобы следующий запуск не ждал ttl
		if err := rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
			logger.Warn("failed to release lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	return true, fn(ctx)
}
