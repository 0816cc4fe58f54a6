package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// PolicyAction определяет, что движок предлагает сделать с письмом
type PolicyAction string

const (
	ActionArchive     PolicyAction = "archive"
	ActionLabel       PolicyAction = "label"
	ActionMove        PolicyAction = "move"
	ActionDelete      PolicyAction = "delete"
	ActionUnsubscribe PolicyAction = "unsubscribe"

	// ActionKeep безвредное действие: ничего не меняет в ящике.
	// Используется политиками-исключениями, чтобы перекрыть разрушительный catch-all.
	ActionKeep PolicyAction = "keep"
)

// PolicyOrigin откуда взялась политика
type PolicyOrigin string

const (
	OriginManual    PolicyOrigin = "manual"
	OriginSeed      PolicyOrigin = "seed"
	OriginLearned   PolicyOrigin = "learned"   // "Always do this"
	OriginException PolicyOrigin = "exception" // "... unless ..."
)

// Полосы приоритетов. Меньшее число = выше приоритет.
const (
	PrioritySecurity  = 1   // фишинг, верификация и прочие правила безопасности
	PriorityException = 5   // keep-политики из фраз-исключений
	PriorityLearned   = 10  // выученные политики ("always do this")
	PriorityCatchAll  = 100 // общие правила по умолчанию

	MaxPriority = 1<<23 - 1
)

// Параметры синтеза выученных политик.
const (
	LearnedThresholdFloor  = 0.70
	LearnedThresholdMargin = 0.05
)

// Policy именованное правило: дерево условий + действие + порог уверенности.
type Policy struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Enabled             bool            `json:"enabled"`
	Priority            int             `json:"priority"`
	Action              PolicyAction    `json:"action"`
	Params              map[string]any  `json:"params,omitempty"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	Condition           json.RawMessage `json:"condition"` // {"all": [{"=": ["category","promotions"]}]}
	Origin              PolicyOrigin    `json:"origin"`
	Fingerprint         string          `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SortKey составной ключ сортировки: приоритет в старших битах, ID (порядок создания) в младших.
// Считается один раз при загрузке, матчеру не нужны вторичные сравнения.
func (p *Policy) SortKey() uint64 {
	prio := p.Priority
	if prio < 0 {
		prio = 0
	}
	if prio > MaxPriority {
		prio = MaxPriority
	}
	return uint64(prio)<<40 | (uint64(p.ID) & (1<<40 - 1))
}

// Validate проверяет поля политики, кроме дерева условий (его проверяет парсер condition).
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !p.Action.Valid() {
		return &ValidationError{Field: "action", Reason: "unknown action " + string(p.Action)}
	}
	if p.Priority < 0 || p.Priority > MaxPriority {
		return &ValidationError{Field: "priority", Reason: "out of range"}
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return &ValidationError{Field: "confidence_threshold", Reason: "must be within [0,1]"}
	}
	if len(p.Condition) == 0 {
		return &ValidationError{Field: "condition", Reason: "is required"}
	}
	return nil
}

func (a PolicyAction) Valid() bool {
	switch a {
	case ActionArchive, ActionLabel, ActionMove, ActionDelete, ActionUnsubscribe, ActionKeep:
		return true
	}
	return false
}

// IsMailboxMutation действия, которые исполняет mailbox executor
func (a PolicyAction) IsMailboxMutation() bool {
	switch a {
	case ActionArchive, ActionLabel, ActionMove, ActionDelete:
		return true
	}
	return false
}
