package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// Mailbox то, что защищает обертка (executor.MailboxExecutor)
type Mailbox interface {
	Apply(ctx context.Context, itemID string, action domain.PolicyAction, params map[string]any) error
}

type ReliabilityOptions struct {
	Name                string
	RatePerSecond       float64
	Burst               int
	ConsecutiveFailures uint32        // сколько ошибок подряд открывают breaker
	OpenTimeout         time.Duration // через сколько breaker пробует закрыться
	CallTimeout         time.Duration
}

// ReliabilityWrapper rate limiter + circuit breaker вокруг mailbox executor.
// Ретраев нет: неудачное исполнение терминально, повтор - только новым предложением.
type ReliabilityWrapper struct {
	next    Mailbox
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliabilityWrapper(next Mailbox, opts ReliabilityOptions, metrics *Metrics) *ReliabilityWrapper {
	if opts.Name == "" {
		opts.Name = "mailbox"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 100
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	state := metrics.CircuitBreakerState.WithLabelValues(opts.Name)
	state.Set(0)

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			state.Set(float64(to))
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		timeout: opts.CallTimeout,
	}
}

func (w *ReliabilityWrapper) Apply(ctx context.Context, itemID string, action domain.PolicyAction, params map[string]any) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		tCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		return nil, w.next.Apply(tCtx, itemID, action, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("mailbox unavailable: %w", err)
	}
	return err
}

func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}
