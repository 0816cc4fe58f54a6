package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// AppliedAction то, что "сделал" тестовый ящик
type AppliedAction struct {
	ItemID string
	Action domain.PolicyAction
	Params map[string]any
	At     time.Time
}

// RecordingMailbox ящик для dry-run и тестов: ничего не меняет, только запоминает вызовы.
// Письма из Fail всегда завершаются ошибкой.
type RecordingMailbox struct {
	mu      sync.Mutex
	applied []AppliedAction
	Fail    map[string]error
}

func NewRecordingMailbox() *RecordingMailbox {
	return &RecordingMailbox{Fail: map[string]error{}}
}

func (m *RecordingMailbox) Apply(ctx context.Context, itemID string, action domain.PolicyAction, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.Fail[itemID]; ok {
		if err == nil {
			err = fmt.Errorf("item %s rejected by mailbox", itemID)
		}
		return err
	}
	m.applied = append(m.applied, AppliedAction{ItemID: itemID, Action: action, Params: params, At: time.Now()})
	return nil
}

func (m *RecordingMailbox) Applied() []AppliedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AppliedAction(nil), m.applied...)
}
