package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// AuditLogProvider чтение аудит-индекса (audit.RedisIndex)
type AuditLogProvider interface {
	ByItem(ctx context.Context, itemID string, limit int64) ([]domain.AuditEntry, error)
}

// AuditReplayer повторная индексация из основного хранилища (audit.Reconciler)
type AuditReplayer interface {
	Replay(ctx context.Context) (int, error)
}

type AuditService struct {
	index    AuditLogProvider
	replayer AuditReplayer
}

func NewAuditService(index AuditLogProvider, replayer AuditReplayer) *AuditService {
	return &AuditService{
		index:    index,
		replayer: replayer,
	}
}

// FetchLogs история одного письма в порядке времени
func (s *AuditService) FetchLogs(ctx context.Context, itemID string, limit int64) ([]domain.AuditEntry, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, &domain.ValidationError{Field: "item_id", Reason: "is required"}
	}
	logs, err := s.index.ByItem(ctx, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}

// Replay заново выводит индекс из предложений. Прямые исполнения не восстанавливаются.
func (s *AuditService) Replay(ctx context.Context) (int, error) {
	n, err := s.replayer.Replay(ctx)
	if err != nil {
		return n, fmt.Errorf("audit_service: replay: %w", err)
	}
	return n, nil
}
