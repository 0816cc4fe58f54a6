package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStateConflict действие не в том статусе, из которого разрешен переход
	ErrStateConflict = errors.New("invalid action status transition")

	// ErrNoUnsubscribeTargets в заголовке List-Unsubscribe нет ни http-ссылки, ни mailto
	ErrNoUnsubscribeTargets = errors.New("no unsubscribe targets available")
)

// ValidationError битое дерево условий, неизвестный оператор, пустой запрос.
// Ничего не сохраняется.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

type StateConflictError struct {
	From ActionStatus
	To   ActionStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrStateConflict.Error(), e.From, e.To)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}

// ExecutionError сбой исполнителя. Действие помечается failed, пачка продолжается.
type ExecutionError struct {
	ItemID string
	Action PolicyAction
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s on %s: %v", e.Action, e.ItemID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AuditWriteError запись в аудит-индекс не удалась после успешной записи в основное хранилище.
// Логируется и считается, но вызывающему не возвращается.
type AuditWriteError struct {
	Count int
	Err   error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit index write of %d entries failed: %v", e.Count, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
