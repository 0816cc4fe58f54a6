package service

import (
	"context"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// DashboardStore агрегаты для консоли
type DashboardStore interface {
	CountByStatus(ctx context.Context) (map[domain.ActionStatus]int64, error)
	CountPolicies(ctx context.Context) (enabled, learned int64, err error)
}

type DashboardService struct {
	store DashboardStore
}

func NewDashboardService(store DashboardStore) *DashboardService {
	return &DashboardService{store: store}
}

func (s *DashboardService) GetGlobalStats(ctx context.Context) (*domain.ReviewDashboard, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	enabled, learned, err := s.store.CountPolicies(ctx)
	if err != nil {
		return nil, err
	}

	d := &domain.ReviewDashboard{
		Proposed:        counts[domain.StatusProposed],
		Approved:        counts[domain.StatusApproved],
		Rejected:        counts[domain.StatusRejected],
		Executed:        counts[domain.StatusExecuted],
		Failed:          counts[domain.StatusFailed],
		EnabledPolicies: enabled,
		LearnedPolicies: learned,
	}
	// executed и failed тоже прошли через approve
	d.ApprovalRate = domain.Precision(d.Approved+d.Executed+d.Failed, d.Rejected)
	return d, nil
}
