package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/infra"
)

// lockTTL верхняя граница одной фоновой задачи; блокировка снимается раньше по завершении
const lockTTL = 30 * time.Minute

// Scheduler фоновые задачи по cron: переиндексация аудита и пересчет статистики окна.
// На нескольких инстансах каждую задачу выполняет только держатель блокировки.
type Scheduler struct {
	app     *App
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	logger  *zap.Logger
}

func NewScheduler(a *App) *Scheduler {
	return &Scheduler{
		app:    a,
		cron:   cron.New(),
		logger: a.Logger.Named("scheduler"),
	}
}

// Start регистрирует задачи с непустым расписанием. Некорректное выражение - ошибка.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []struct {
		name     string
		schedule string
		lockKey  string
		run      func(ctx context.Context) (int, error)
	}{
		{"audit-replay", s.app.Config.Engine.ReplaySchedule, infra.RedisKeyLockReplay, s.app.Reconciler.Replay},
		{"stats-recompute", s.app.Config.Engine.RecomputeSchedule, infra.RedisKeyLockRecompute, s.app.Learning.RecomputeWindow},
	}

	for _, j := range jobs {
		if j.schedule == "" {
			s.logger.Info("job disabled", zap.String("job", j.name))
			continue
		}
		job := j
		if _, err := s.cron.AddFunc(job.schedule, func() {
			s.runJob(ctx, job.name, job.lockKey, job.run)
		}); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", job.schedule, job.name, err)
		}
		s.logger.Info("job scheduled", zap.String("job", job.name), zap.String("schedule", job.schedule))
	}

	s.cron.Start()
	s.running = true
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, name, lockKey string, run func(ctx context.Context) (int, error)) {
	start := time.Now()
	var n int
	ran, err := engine.RunOnce(ctx, s.app.Redis, s.logger, lockKey, lockTTL, func(ctx context.Context) error {
		var err error
		n, err = run(ctx)
		return err
	})
	switch {
	case err != nil:
		s.app.Metrics.ErrorTotal.WithLabelValues(name).Inc()
		s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
	case ran:
		s.logger.Info("job completed",
			zap.String("job", name),
			zap.Int("processed", n),
			zap.Duration("took", time.Since(start)))
	}
}

// Stop ждет завершения выполняющихся задач
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
	}
}
