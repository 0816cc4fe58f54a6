package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// EntryFor запись о переходе действия в статус status. Время и исполнитель выводятся
// из сохраненной строки, поэтому живая запись и replay дают одинаковый результат.
func EntryFor(a *domain.ProposedAction, status domain.ActionStatus) domain.AuditEntry {
	actor := domain.ActorAgent
	at := a.CreatedAt
	var payload map[string]any

	switch status {
	case domain.StatusApproved, domain.StatusRejected:
		actor = domain.ActorUser
		if a.ReviewedAt != nil {
			at = *a.ReviewedAt
		}
		if a.ReviewedBy != nil {
			payload = map[string]any{"reviewed_by": *a.ReviewedBy}
		}
	case domain.StatusExecuted, domain.StatusFailed:
		actor = domain.ActorSystem
		if a.ExecutedAt != nil {
			at = *a.ExecutedAt
		}
		if status == domain.StatusFailed && a.Error != nil {
			payload = map[string]any{"error": *a.Error}
		}
	}

	e := domain.NewAuditEntry(a, status, actor, at.UTC())
	e.Payload = payload
	return e
}

// EntriesFor полная история действия, восстановленная из основного хранилища
func EntriesFor(a *domain.ProposedAction) []domain.AuditEntry {
	out := []domain.AuditEntry{EntryFor(a, domain.StatusProposed)}

	switch a.Status {
	case domain.StatusApproved, domain.StatusRejected:
		out = append(out, EntryFor(a, a.Status))
	case domain.StatusExecuted, domain.StatusFailed:
		out = append(out, EntryFor(a, domain.StatusApproved), EntryFor(a, a.Status))
	}
	return out
}

// DirectEntry запись о прямом исполнении (без предложения). Такие записи есть только в индексе.
func DirectEntry(itemID string, action domain.PolicyAction, params map[string]any, execErr error, at time.Time) domain.AuditEntry {
	status := domain.StatusExecuted
	payload := map[string]any{}
	if len(params) > 0 {
		payload["params"] = params
	}
	if execErr != nil {
		status = domain.StatusFailed
		payload["error"] = execErr.Error()
	}
	return domain.AuditEntry{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Action:    action,
		Actor:     domain.ActorUser,
		Status:    status,
		Payload:   payload,
		CreatedAt: at.UTC(),
	}
}
