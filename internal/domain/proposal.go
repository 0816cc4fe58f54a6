package domain

import (
	"time"
)

// Статусы State Machine
type ActionStatus string

const (
	StatusProposed ActionStatus = "proposed"
	StatusApproved ActionStatus = "approved"
	StatusRejected ActionStatus = "rejected"
	StatusExecuted ActionStatus = "executed"
	StatusFailed   ActionStatus = "failed"
)

func (s ActionStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusApproved, StatusRejected, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// Terminal после этих статусов переходов нет
func (s ActionStatus) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// Rationale снимок признаков + объяснение, почему движок предложил действие
type Rationale struct {
	Features      map[string]any `json:"features"`
	Narrative     string         `json:"narrative"`
	MatchedTokens []string       `json:"matched_tokens,omitempty"`
}

type ProposedAction struct {
	ID         int64          `json:"id"`
	ItemID     string         `json:"item_id"`
	UserID     string         `json:"user_id"`
	Action     PolicyAction   `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Confidence float64        `json:"confidence"`
	Rationale  Rationale      `json:"rationale"`
	PolicyID   *int64         `json:"policy_id,omitempty"` // nil, если предложение пришло не из политики
	Status     ActionStatus   `json:"status"`

	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	Error      *string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CanTransitionTo проверяет правила конечного автомата:
// proposed -> approved|rejected, approved -> executed|failed, остальное терминально.
func (a *ProposedAction) CanTransitionTo(next ActionStatus) error {
	return CheckTransition(a.Status, next)
}

func CheckTransition(from, to ActionStatus) error {
	switch from {
	case StatusProposed:
		if to == StatusApproved || to == StatusRejected {
			return nil
		}
	case StatusApproved:
		if to == StatusExecuted || to == StatusFailed {
			return nil
		}
	}
	return &StateConflictError{From: from, To: to}
}
