// Package app собирает зависимости сервиса из конфигурации. Используется и HTTP-консолью,
// и CLI pilotctl, чтобы обе точки входа работали с одинаково настроенным ядром.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/inboxpilot/internal/audit"
	"github.com/xela07ax/inboxpilot/internal/connectors"
	"github.com/xela07ax/inboxpilot/internal/console/handler"
	"github.com/xela07ax/inboxpilot/internal/console/server"
	"github.com/xela07ax/inboxpilot/internal/console/service"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/executor"
	"github.com/xela07ax/inboxpilot/internal/infra"
	"github.com/xela07ax/inboxpilot/internal/infra/auth"
	"github.com/xela07ax/inboxpilot/internal/learning"
	"github.com/xela07ax/inboxpilot/internal/policy"
	"github.com/xela07ax/inboxpilot/internal/repository/sqldb"
)

type App struct {
	Config   *infra.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *engine.Metrics

	DB    *sqldb.DB
	Redis *redis.Client

	Matcher    *policy.Matcher
	PolicySync *policy.Sync
	Learning   *learning.Loop
	Audit      *audit.Writer
	AuditIndex *audit.RedisIndex
	Reconciler *audit.Reconciler
	MailQueue  *connectors.RedisMailQueue
	Holds      *engine.HoldManager
	Mailbox    *engine.ReliabilityWrapper

	Proposals *service.ProposalService
	Reviews   *service.ReviewService
	Always    *service.AlwaysService
	Execution *service.ExecutionService
	Policies  *service.PolicyService
	AuditLogs *service.AuditService
	Learn     *service.LearningService
	Dashboard *service.DashboardService
}

// New открывает хранилища и собирает сервисы. Фоновые горутины не запускаются:
// это делает вызывающий (Start/Stop у writer, Listen у PolicySync и Holds).
func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// 1. Метрики
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = engine.NewMetrics(a.Registry)

	// 2. Основное хранилище
	db, err := sqldb.Open(sqldb.Options{
		Driver:     sqldb.Dialect(cfg.Database.Driver),
		URL:        cfg.Database.URL,
		MaxConns:   cfg.Database.MaxConns,
		WindowDays: cfg.Engine.WindowDays,
	})
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	a.DB = db

	// 3. Redis: индекс аудита, Pub/Sub, очередь отписок. Недоступность не фатальна.
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, audit index will lag until replay", zap.Error(err))
	}

	// 4. Ядро: матчер, обучение, аудит
	scorer := policy.Scorer{Base: cfg.Engine.BaseConfidence, Influence: cfg.Engine.WeightInfluence}
	a.Matcher = policy.NewMatcher(db, scorer, logger)
	a.PolicySync = policy.NewSync(a.Matcher, a.Redis, a.Metrics, logger)
	a.Learning = learning.NewLoop(db, cfg.Engine.LearningRate, cfg.Engine.WindowDays, logger)

	a.AuditIndex = audit.NewRedisIndex(a.Redis)
	a.Audit = audit.NewWriter(a.AuditIndex, audit.WriterOptions{
		BufferSize:    cfg.Engine.AuditBufferSize,
		BatchSize:     cfg.Engine.AuditBatchSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
	}, a.Metrics, logger)
	a.Reconciler = audit.NewReconciler(db, a.AuditIndex, logger)

	// 5. Исполнение: ящик за rate limiter + circuit breaker, отписка HTTP -> mailto
	var mailbox engine.Mailbox
	if cfg.Engine.DryRun {
		logger.Warn("dry-run mode: mailbox mutations are recorded, not applied")
		mailbox = connectors.NewRecordingMailbox()
	} else {
		mailbox = connectors.NewHTTPMailbox(cfg.Engine.MailboxURL, cfg.Engine.CallTimeout)
	}
	a.Mailbox = engine.NewReliabilityWrapper(mailbox, engine.ReliabilityOptions{
		Name:                "mailbox",
		RatePerSecond:       cfg.Engine.RateLimit,
		Burst:               cfg.Engine.RateBurst,
		ConsecutiveFailures: cfg.Engine.CBFailures,
		OpenTimeout:         cfg.Engine.CBTimeout,
		CallTimeout:         cfg.Engine.CallTimeout,
	}, a.Metrics)

	a.MailQueue = connectors.NewRedisMailQueue(a.Redis)
	unsubRate := rate.Inf
	if cfg.Engine.UnsubscribeRate > 0 {
		unsubRate = rate.Limit(cfg.Engine.UnsubscribeRate)
	}
	unsub := executor.NewUnsubscriber(
		&http.Client{CheckRedirect: limitRedirects},
		a.MailQueue,
		rate.NewLimiter(unsubRate, 1),
		cfg.Engine.UnsubscribeTimeout,
		logger,
	)
	a.Holds = engine.NewHoldManager(a.Redis, logger)
	dispatcher := executor.NewDispatcher(a.Mailbox, unsub, a.Holds, logger)

	// 6. Сервисы (Dependency Injection)
	a.Proposals = service.NewProposalService(db, a.Matcher, a.Learning, a.Audit, a.Metrics, logger)
	a.Reviews = service.NewReviewService(db, a.Learning, dispatcher, a.Audit, a.Metrics, logger)
	a.Policies = service.NewPolicyService(db, a.PolicySync, a.Metrics, logger)
	a.Always = service.NewAlwaysService(db, a.Reviews, a.Policies, a.Metrics, logger)
	a.Execution = service.NewExecutionService(dispatcher, a.Audit, a.Metrics, logger)
	a.AuditLogs = service.NewAuditService(a.AuditIndex, a.Reconciler)
	a.Learn = service.NewLearningService(db, a.Learning)
	a.Dashboard = service.NewDashboardService(db)

	return a, nil
}

// Handler HTTP API консоли
func (a *App) Handler() (http.Handler, error) {
	var validator auth.TokenValidator
	if len(a.Config.Auth.PublicKey) > 0 {
		key, err := auth.ParseRSAPublicKey(a.Config.Auth.PublicKey)
		if err != nil {
			return nil, err
		}
		validator = auth.NewBaseValidator(key)
	} else {
		a.Logger.Warn("no auth public key configured, reviewer identity comes from X-User-ID")
	}

	return server.NewConsoleServer(a.Logger, a.Metrics, a.Registry, validator, server.Handlers{
		Proposals: handler.NewProposalHandler(a.Proposals, a.Reviews, a.Always, a.Logger),
		Execute:   handler.NewExecuteHandler(a.Execution, a.Logger),
		Policies:  handler.NewPolicyHandler(a.Policies, a.Logger),
		Audit:     handler.NewAuditHandler(a.AuditLogs, a.Logger),
		Learning:  handler.NewLearningHandler(a.Learn, a.Logger),
		Dashboard: handler.NewDashboardHandler(a.Dashboard, a.Logger),
		Holds:     handler.NewHoldHandler(a.Holds, a.Logger),
	}), nil
}

// SeedFromConfig загружает engine.seed_policies, если путь задан
func (a *App) SeedFromConfig(ctx context.Context) (int, error) {
	if a.Config.Engine.SeedPolicies == "" {
		return 0, nil
	}
	seeds, err := policy.LoadSeedFile(a.Config.Engine.SeedPolicies)
	if err != nil {
		return 0, err
	}
	return a.Policies.Seed(ctx, seeds)
}

// Close освобождает соединения. Writer аудита останавливает вызывающий до Close.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("database close failed", zap.Error(err))
		}
	}
}

// limitRedirects ссылки отписки иногда ведут через цепочку трекеров
func limitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return http.ErrUseLastResponse
	}
	return nil
}
