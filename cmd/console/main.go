package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/app"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/infra"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM отменяет слушателей и cron
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Сборка ядра
	a, err := app.New(appCtx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	if err := a.DB.Migrate(appCtx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// 3. Seed-политики: только один инстанс, повтор идемпотентен по отпечатку
	if _, err := engine.RunOnce(appCtx, a.Redis, logger, infra.RedisKeyLockSeed, time.Minute, func(ctx context.Context) error {
		n, err := a.SeedFromConfig(ctx)
		if n > 0 {
			logger.Info("seed policies loaded", zap.Int("created", n))
		}
		return err
	}); err != nil {
		logger.Fatal("failed to seed policies", zap.Error(err))
	}

	// 4. Кеш политик + подписка на изменения с других инстансов
	if err := a.PolicySync.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load policies", zap.Error(err))
	}
	go a.PolicySync.Listen(appCtx)

	// Стоп-кран: состояние до первого запроса, затем сигналы
	if err := a.Holds.Init(appCtx); err != nil {
		logger.Fatal("failed to load execution holds", zap.Error(err))
	}
	go a.Holds.Listen(appCtx)

	a.Audit.Start()

	scheduler := app.NewScheduler(a)
	if err := scheduler.Start(appCtx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// 5. HTTP Server
	h, err := a.Handler()
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr), zap.Bool("dry_run", cfg.Engine.DryRun))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("console API stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Порядок: запросы -> cron -> дописать аудит -> закрыть хранилища (defer)
	scheduler.Stop()
	a.Audit.Stop()
	logger.Info("console API exited properly")
}
