package domain

import (
	"fmt"
	"time"
)

// Actor кто совершил переход
type Actor string

const (
	ActorAgent  Actor = "agent"  // движок предложил действие
	ActorUser   Actor = "user"   // решение ревьюера
	ActorSystem Actor = "system" // исполнитель
)

// AuditEntry append-only запись об одном переходе жизненного цикла.
// Хранится во вторичном (eventually consistent) индексе, никогда не изменяется.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActionID   int64          `json:"action_id,omitempty"`
	ItemID     string         `json:"item_id"`
	Action     PolicyAction   `json:"action"`
	Actor      Actor          `json:"actor"`
	Status     ActionStatus   `json:"status"`
	PolicyID   *int64         `json:"policy_id,omitempty"`
	Confidence float64        `json:"confidence"`
	Rationale  *Rationale     `json:"rationale,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditEntryID детерминированный ID: повторная запись того же перехода (replay) идемпотентна.
func AuditEntryID(actionID int64, status ActionStatus) string {
	return fmt.Sprintf("%d:%s", actionID, status)
}

// NewAuditEntry снимок предложения в момент перехода в статус status
func NewAuditEntry(a *ProposedAction, status ActionStatus, actor Actor, at time.Time) AuditEntry {
	rationale := a.Rationale
	return AuditEntry{
		ID:         AuditEntryID(a.ID, status),
		ActionID:   a.ID,
		ItemID:     a.ItemID,
		Action:     a.Action,
		Actor:      actor,
		Status:     status,
		PolicyID:   a.PolicyID,
		Confidence: a.Confidence,
		Rationale:  &rationale,
		CreatedAt:  at,
	}
}
