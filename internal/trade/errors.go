package trade

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// Sentinel errors, проверяются через errors.Is
var (
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrStaleState        = errors.New("stale_state")
	ErrTransientFetch    = errors.New("transient_fetch")
	ErrResolution        = errors.New("resolution_failed")
)

// Причины отказа в переходе
const (
	ReasonStatus            = "status"
	ReasonTerminal          = "terminal"
	ReasonRole              = "role"
	ReasonNotParticipant    = "not_participant"
	ReasonMeetupUnconfirmed = "meetup_unconfirmed"
	ReasonNotMeetup         = "not_meetup"
	ReasonEmptyBundle       = "empty_bundle"
	ReasonExpired           = "expired"
	ReasonUnknownAction     = "unknown_action"
)

// InvalidTransitionError действие недопустимо для текущего состояния обмена.
// Ловится локально до любого сетевого вызова.
type InvalidTransitionError struct {
	TradeID uuid.UUID
	Action  models.Action
	Status  models.TradeStatus
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("trade %s: action %q not allowed in status %q (%s)", e.TradeID, e.Action, e.Status, e.Reason)
}

// Is: отказ на терминальном или просроченном обмене означает, что локальное
// представление устарело и перед повтором нужно обновить список
func (e *InvalidTransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	if target == ErrStaleState {
		return e.Reason == ReasonTerminal || e.Reason == ReasonExpired
	}
	return false
}

// StaleStateError локальный статус расходится с ответом сервера
type StaleStateError struct {
	TradeID uuid.UUID
	Local   models.TradeStatus
	Remote  models.TradeStatus
	Err     error
}

func (e *StaleStateError) Error() string {
	msg := fmt.Sprintf("trade %s: local status %q is stale", e.TradeID, e.Local)
	if e.Remote != "" {
		msg += fmt.Sprintf(", server has %q", e.Remote)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StaleStateError) Unwrap() error { return e.Err }

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

// TransientFetchError сетевой или серверный сбой при обновлении или записи
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

func (e *TransientFetchError) Is(target error) bool { return target == ErrTransientFetch }

// ResolutionError не удалось получить название или картинку товара
type ResolutionError struct {
	ProductID uuid.UUID
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve product %s: %v", e.ProductID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// NeedsMeetupConfirmation сообщает, что завершение отклонено до подтверждения встречи
func NeedsMeetupConfirmation(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te) && te.Reason == ReasonMeetupUnconfirmed
}

// NeedsRefresh сообщает, что перед повтором действия нужно перечитать список
func NeedsRefresh(err error) bool {
	return errors.Is(err, ErrStaleState)
}
