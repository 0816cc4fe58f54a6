package service

import (
	"context"
	"strings"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// LearningStore чтение состояния обучения (sqldb.DB)
type LearningStore interface {
	ListWeights(ctx context.Context, userID string) ([]domain.UserWeight, error)
	ListStats(ctx context.Context, policyID int64) ([]domain.PolicyStats, error)
}

// WindowRecomputer пересчет статистики по окну (learning.Loop)
type WindowRecomputer interface {
	RecomputeWindow(ctx context.Context) (int, error)
}

type LearningService struct {
	store LearningStore
	loop  WindowRecomputer
}

func NewLearningService(store LearningStore, loop WindowRecomputer) *LearningService {
	return &LearningService{store: store, loop: loop}
}

func (s *LearningService) Weights(ctx context.Context, userID string) ([]domain.UserWeight, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	return s.store.ListWeights(ctx, userID)
}

// Stats статистика политики, policyID == 0 - по всем
func (s *LearningService) Stats(ctx context.Context, policyID int64) ([]domain.PolicyStats, error) {
	return s.store.ListStats(ctx, policyID)
}

func (s *LearningService) Recompute(ctx context.Context) (int, error) {
	return s.loop.RecomputeWindow(ctx)
}
