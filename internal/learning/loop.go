package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

const (
	DefaultLearningRate = 0.2
	DefaultWindowDays   = 30
)

// Outcome знак обратной связи
type Outcome int

const (
	Approve Outcome = 1
	Reject  Outcome = -1
)

// Store хранилище весов и статистики (реализует sqldb.DB)
type Store interface {
	AddWeights(ctx context.Context, userID string, deltas map[string]float64, at time.Time) error
	GetWeights(ctx context.Context, userID string) (map[string]float64, error)
	RecordReview(ctx context.Context, policyID int64, userID string, approved bool, windowDays int, at time.Time) error
	RecomputeStats(ctx context.Context, since time.Time, windowDays int, at time.Time) (int, error)
}

type Loop struct {
	store      Store
	eta        float64
	windowDays int
	now        func() time.Time
	logger     *zap.Logger
}

func NewLoop(store Store, eta float64, windowDays int, logger *zap.Logger) *Loop {
	if eta <= 0 {
		eta = DefaultLearningRate
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Loop{
		store:      store,
		eta:        eta,
		windowDays: windowDays,
		now:        time.Now,
		logger:     logger.Named("learning"),
	}
}

// Deltas аддитивный сдвиг w += eta*y для каждого стабильного признака
func Deltas(features map[string]any, eta float64, outcome Outcome) map[string]float64 {
	stable := StableFeatures(features)
	if len(stable) == 0 {
		return nil
	}
	out := make(map[string]float64, len(stable))
	for _, f := range stable {
		out[f.String()] += eta * float64(outcome)
	}
	return out
}

// Feedback применяет решение ревьюера: веса пользователя и статистика политики.
// Повторного применения не бывает: вызывается только после успешного перехода из proposed.
func (l *Loop) Feedback(ctx context.Context, a *domain.ProposedAction, outcome Outcome) error {
	at := l.now()

	if deltas := Deltas(a.Rationale.Features, l.eta, outcome); len(deltas) > 0 {
		if err := l.store.AddWeights(ctx, a.UserID, deltas, at); err != nil {
			return fmt.Errorf("learning: update weights for action %d: %w", a.ID, err)
		}
	}

	if a.PolicyID != nil {
		if err := l.store.RecordReview(ctx, *a.PolicyID, a.UserID, outcome == Approve, l.windowDays, at); err != nil {
			return fmt.Errorf("learning: record review for policy %d: %w", *a.PolicyID, err)
		}
	}

	l.logger.Debug("feedback applied",
		zap.Int64("action_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.Int("outcome", int(outcome)))
	return nil
}

// Weights разреженная карта feature -> weight пользователя
func (l *Loop) Weights(ctx context.Context, userID string) (map[string]float64, error) {
	w, err := l.store.GetWeights(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("learning: load weights: %w", err)
	}
	return w, nil
}

// RecomputeWindow пересчитывает PolicyStats по скользящему окну windowDays
func (l *Loop) RecomputeWindow(ctx context.Context) (int, error) {
	now := l.now()
	since := now.Add(-time.Duration(l.windowDays) * 24 * time.Hour)

	n, err := l.store.RecomputeStats(ctx, since, l.windowDays, now)
	if err != nil {
		return 0, fmt.Errorf("learning: recompute stats: %w", err)
	}
	l.logger.Info("policy stats recomputed", zap.Int("pairs", n), zap.Int("window_days", l.windowDays))
	return n, nil
}

func (l *Loop) WindowDays() int {
	return l.windowDays
}
