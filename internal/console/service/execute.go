package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/audit"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
	"github.com/xela07ax/inboxpilot/internal/executor"
)

// DirectItem действие, которое пользователь выполняет сам, без предложения
type DirectItem struct {
	ItemID string              `json:"item_id"`
	Action domain.PolicyAction `json:"action"`
	Params map[string]any      `json:"params,omitempty"`
}

type ExecutionService struct {
	executor Executor
	auditor  audit.Auditor
	metrics  *engine.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

func NewExecutionService(exec Executor, auditor audit.Auditor, metrics *engine.Metrics, logger *zap.Logger) *ExecutionService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &ExecutionService{
		executor: exec,
		auditor:  auditor,
		metrics:  metrics,
		now:      time.Now,
		logger:   logger.Named("execution-service"),
	}
}

// Execute исполняет пачку и возвращает число успешных. Сбой одного письма не прерывает остальные.
func (s *ExecutionService) Execute(ctx context.Context, items []DirectItem) (int, error) {
	if len(items) == 0 {
		return 0, &domain.ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for i, it := range items {
		if strings.TrimSpace(it.ItemID) == "" {
			return 0, &domain.ValidationError{Field: fmt.Sprintf("items[%d].item_id", i), Reason: "is required"}
		}
		if !it.Action.Valid() {
			return 0, &domain.ValidationError{Field: fmt.Sprintf("items[%d].action", i), Reason: "unknown action " + string(it.Action)}
		}
	}

	applied := 0
	entries := make([]domain.AuditEntry, 0, len(items))
	for _, it := range items {
		err := s.executor.Execute(ctx, executor.Request{ItemID: it.ItemID, Action: it.Action, Params: it.Params})
		entries = append(entries, audit.DirectEntry(it.ItemID, it.Action, it.Params, err, s.now()))

		result := "success"
		if err != nil {
			result = "failure"
		} else {
			applied++
		}
		s.metrics.ExecutionsTotal.WithLabelValues(string(it.Action), result).Inc()
	}
	s.auditor.Log(entries...)

	s.logger.Info("direct execution finished", zap.Int("items", len(items)), zap.Int("applied", applied))
	return applied, nil
}
