// Package executor исполняет одобренные действия: изменения в ящике уходят в mailbox executor,
// отписка идет через List-Unsubscribe. Ретраев внутри нет, неудача терминальна.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// MailboxExecutor внешний исполнитель изменений в ящике
type MailboxExecutor interface {
	Apply(ctx context.Context, itemID string, action domain.PolicyAction, params map[string]any) error
}

// Request одно действие к исполнению. Features - снимок письма, из него достается
// List-Unsubscribe, если его нет в параметрах.
type Request struct {
	ItemID   string
	UserID   string // пусто для прямого исполнения: действует только глобальный hold
	Action   domain.PolicyAction
	Params   map[string]any
	Features map[string]any
}

// HoldChecker операторский стоп-кран (engine.HoldManager)
type HoldChecker interface {
	IsHeld(userID string) bool
}

var ErrExecutionHeld = errors.New("execution is on hold")

type Dispatcher struct {
	mailbox MailboxExecutor
	unsub   *Unsubscriber
	holds   HoldChecker
	logger  *zap.Logger
}

// NewDispatcher holds может быть nil
func NewDispatcher(mailbox MailboxExecutor, unsub *Unsubscriber, holds HoldChecker, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		mailbox: mailbox,
		unsub:   unsub,
		holds:   holds,
		logger:  logger.Named("executor"),
	}
}

// Execute маршрутизирует действие. Ошибка всегда *domain.ExecutionError.
func (d *Dispatcher) Execute(ctx context.Context, req Request) error {
	var err error
	switch {
	case req.Action == domain.ActionKeep:
		// Ничего не меняем: keep перекрывает разрушительные политики
	case d.holds != nil && d.holds.IsHeld(req.UserID):
		err = ErrExecutionHeld
	case req.Action.IsMailboxMutation():
		err = d.mailbox.Apply(ctx, req.ItemID, req.Action, req.Params)
	case req.Action == domain.ActionUnsubscribe:
		err = d.unsubscribe(ctx, req)
	default:
		err = fmt.Errorf("unsupported action %q", req.Action)
	}

	if err != nil {
		d.logger.Warn("execution failed",
			zap.String("item_id", req.ItemID),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return &domain.ExecutionError{ItemID: req.ItemID, Action: req.Action, Err: err}
	}
	return nil
}

func (d *Dispatcher) unsubscribe(ctx context.Context, req Request) error {
	header, ok := FindHeader(req.Params)
	if !ok {
		header, _ = FindHeader(req.Features)
	}

	via, err := d.unsub.Unsubscribe(ctx, req.ItemID, ParseListUnsubscribe(header))
	if err != nil {
		return err
	}
	d.logger.Info("unsubscribed", zap.String("item_id", req.ItemID), zap.String("via", via))
	return nil
}
