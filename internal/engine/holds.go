package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/infra"
)

// HoldAll удержание всех исполнений сразу (аварийный стоп)
const HoldAll = "*"

// HoldManager операторский стоп-кран исполнения: пока у пользователя (или у всех) стоит hold,
// одобренные действия не доходят до ящика. Состояние: SET в Redis + сигнал в Pub/Sub,
// у каждого инстанса локальная копия.
type HoldManager struct {
	mu     sync.RWMutex
	held   map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHoldManager(rdb *redis.Client, logger *zap.Logger) *HoldManager {
	return &HoldManager{
		held:   make(map[string]struct{}),
		rdb:    rdb,
		logger: logger.Named("holds"),
	}
}

// Init загружает текущее состояние при старте и после переподключения
func (m *HoldManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	subjects, err := m.rdb.SMembers(ctx, infra.RedisKeyHoldSet).Result()
	if err != nil {
		return fmt.Errorf("load holds: %w", err)
	}

	held := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		held[s] = struct{}{}
	}
	m.mu.Lock()
	m.held = held
	m.mu.Unlock()
	return nil
}

// Listen держит подписку на сигналы других инстансов. Блокирует до отмены ctx.
func (m *HoldManager) Listen(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanHoldSignal, m.Init, func(_ context.Context, payload string) {
		if !m.apply(payload) {
			m.logger.Warn("malformed hold signal", zap.String("payload", payload))
		}
	})
}

// Set ставит или снимает hold и оповещает остальные инстансы
func (m *HoldManager) Set(ctx context.Context, subject string, on bool) error {
	if subject == "" {
		return fmt.Errorf("hold subject must not be empty")
	}
	signal := subject + ":off"
	if on {
		signal = subject + ":on"
	}

	if m.rdb != nil {
		var err error
		if on {
			err = m.rdb.SAdd(ctx, infra.RedisKeyHoldSet, subject).Err()
		} else {
			err = m.rdb.SRem(ctx, infra.RedisKeyHoldSet, subject).Err()
		}
		if err != nil {
			return fmt.Errorf("store hold: %w", err)
		}
	}
	m.apply(signal)

	if m.rdb != nil {
		if err := m.rdb.Publish(ctx, infra.RedisChanHoldSignal, signal).Err(); err != nil {
			// Состояние уже в SET: остальные подхватят при переподключении
			m.logger.Warn("failed to publish hold signal", zap.String("signal", signal), zap.Error(err))
		}
	}
	m.logger.Info("hold changed", zap.String("subject", subject), zap.Bool("on", on))
	return nil
}

// IsHeld true, если стоит глобальный hold или hold пользователя
func (m *HoldManager) IsHeld(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.held[HoldAll]; ok {
		return true
	}
	if userID == "" {
		return false
	}
	_, ok := m.held[userID]
	return ok
}

func (m *HoldManager) List() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.held))
	for s := range m.held {
		out = append(out, s)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// apply разбирает "subject:on" / "subject:off"
func (m *HoldManager) apply(payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := strings.CutSuffix(payload, ":on"); ok && id != "" {
		m.held[id] = struct{}{}
		return true
	}
	if id, ok := strings.CutSuffix(payload, ":off"); ok && id != "" {
		delete(m.held, id)
		return true
	}
	return false
}
