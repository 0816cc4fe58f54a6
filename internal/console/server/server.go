package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/console/handler"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/infra/auth"
)

// Handlers обработчики бизнес-доменов
type Handlers struct {
	Proposals *handler.ProposalHandler  // /v1/proposals (ревью)
	Execute   *handler.ExecuteHandler   // /v1/execute
	Policies  *handler.PolicyHandler    // /v1/policies
	Audit     *handler.AuditHandler     // /v1/audit
	Learning  *handler.LearningHandler  // /v1/learning
	Dashboard *handler.DashboardHandler // /v1/dashboard
	Holds     *handler.HoldHandler      // /v1/holds
}

type ConsoleServer struct {
	router   *chi.Mux
	logger   *zap.Logger
	metrics  *engine.Metrics
	gatherer prometheus.Gatherer

	// nil: личность только из X-User-ID
	authValidator auth.TokenValidator

	h Handlers
}

// NewConsoleServer инициализирует API со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	metrics *engine.Metrics,
	gatherer prometheus.Gatherer,
	validator auth.TokenValidator,
	h Handlers,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		metrics:       metrics,
		gatherer:      gatherer,
		authValidator: validator,
		h:             h,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(s.metrics.MetricsMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. API (личность ревьюера в контексте) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Предложения и ревью
		r.Route("/v1/proposals", func(r chi.Router) {
			r.Get("/", s.h.Proposals.List)
			r.Post("/", s.h.Proposals.Propose)
			r.Post("/preview", s.h.Proposals.Preview)
			r.Post("/approve", s.h.Proposals.Approve)
			r.Post("/reject", s.h.Proposals.Reject)
			r.Post("/always", s.h.Proposals.Always)
			r.Get("/{id}", s.h.Proposals.Get)
		})

		r.Post("/v1/execute", s.h.Execute.Execute)

		// Управление Политиками
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.h.Policies.List)
			r.Post("/", s.h.Policies.Create)
			r.Post("/exceptions", s.h.Policies.Exceptions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.h.Policies.Get)
				r.Put("/", s.h.Policies.Update)
				r.Delete("/", s.h.Policies.Delete)
			})
		})

		// Аудит
		r.Get("/v1/audit", s.h.Audit.GetLogs)
		r.Post("/v1/audit/replay", s.h.Audit.Replay)

		// Обучение
		r.Get("/v1/learning/weights", s.h.Learning.Weights)
		r.Get("/v1/learning/stats", s.h.Learning.Stats)
		r.Post("/v1/learning/recompute", s.h.Learning.Recompute)

		r.Get("/v1/dashboard", s.h.Dashboard.GetStats)

		// Стоп-кран исполнения
		r.Route("/v1/holds", func(r chi.Router) {
			r.Get("/", s.h.Holds.List)
			r.Put("/{subject}", s.h.Holds.Hold)
			r.Delete("/{subject}", s.h.Holds.Release)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
