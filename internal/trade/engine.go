// Package trade содержит машину состояний обмена. Пакет не делает I/O:
// все функции получают обмен по значению и возвращают новый.
package trade

import (
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// Engine проверяет и применяет действия над обменом
type Engine struct {
	// ExpiryThreshold возраст, после которого ожидающее предложение считается
	// просроченным. Ноль отключает проверку.
	ExpiryThreshold time.Duration
}

// NewEngine создает новый экземпляр Engine
func NewEngine(expiry time.Duration) *Engine {
	return &Engine{ExpiryThreshold: expiry}
}

// rule описывает одно действие графа переходов
type rule struct {
	from   []models.TradeStatus
	actor  models.Party // пусто: любая сторона
	to     models.TradeStatus
	system bool
}

var rules = map[models.Action]rule{
	models.ActionAccept:        {from: []models.TradeStatus{models.StatusPending, models.StatusCountered}, actor: models.PartySeller, to: models.StatusAccepted},
	models.ActionDecline:       {from: []models.TradeStatus{models.StatusPending, models.StatusCountered}, actor: models.PartySeller, to: models.StatusDeclined},
	models.ActionCancel:        {from: []models.TradeStatus{models.StatusPending, models.StatusCountered}, actor: models.PartyBuyer, to: models.StatusCancelled},
	models.ActionCounter:       {from: []models.TradeStatus{models.StatusPending}, actor: models.PartySeller, to: models.StatusCountered},
	models.ActionConfirmMeetup: {from: []models.TradeStatus{models.StatusAccepted, models.StatusActive}},
	models.ActionComplete:      {from: []models.TradeStatus{models.StatusAccepted, models.StatusActive}, to: models.StatusCompleted},
	models.ActionExpire:        {from: []models.TradeStatus{models.StatusPending, models.StatusCountered}, to: models.StatusExpired, system: true},
}

// Validate проверяет действие без изменения обмена
func (e *Engine) Validate(t models.Trade, actor uuid.UUID, action models.Action, payload models.ActionPayload, now time.Time) error {
	_, err := e.Apply(t, actor, action, payload, now)
	return err
}

// Apply применяет действие и возвращает новое состояние обмена.
// actor игнорируется для системного действия expire.
func (e *Engine) Apply(t models.Trade, actor uuid.UUID, action models.Action, payload models.ActionPayload, now time.Time) (models.Trade, error) {
	fail := func(reason string) (models.Trade, error) {
		return t, &InvalidTransitionError{TradeID: t.ID, Action: action, Status: t.Status, Reason: reason}
	}

	r, ok := rules[action]
	if !ok {
		return fail(ReasonUnknownAction)
	}
	if t.Status.IsTerminal() {
		return fail(ReasonTerminal)
	}

	if !r.system {
		party, ok := t.PartyOf(actor)
		if !ok {
			return fail(ReasonNotParticipant)
		}
		if r.actor != "" && party != r.actor {
			return fail(ReasonRole)
		}
	}

	if !statusIn(t.Status, r.from) {
		return fail(ReasonStatus)
	}

	expired := e.isExpired(t, now)
	switch action {
	case models.ActionExpire:
		if !expired {
			return fail(ReasonStatus)
		}
	case models.ActionAccept, models.ActionCounter:
		if expired {
			return fail(ReasonExpired)
		}
	}

	next := t.Clone()
	switch action {
	case models.ActionDecline:
		next.DeclineFeedback = payload.Feedback
	case models.ActionCounter:
		if len(payload.Items) == 0 {
			return fail(ReasonEmptyBundle)
		}
		next.Items = make([]models.TradeItem, len(payload.Items))
		copy(next.Items, payload.Items)
		if payload.CashAmount != nil {
			cash := *payload.CashAmount
			next.CashAmount = &cash
		}
	case models.ActionConfirmMeetup:
		if t.TradeOption != models.OptionMeetup {
			return fail(ReasonNotMeetup)
		}
		party, _ := t.PartyOf(actor)
		if party == models.PartyBuyer {
			next.BuyerMeetupConfirmed = true
		} else {
			next.SellerMeetupConfirmed = true
		}
		if next.BuyerMeetupConfirmed && next.SellerMeetupConfirmed {
			next.MeetupConfirmedFlag = true
		}
	case models.ActionComplete:
		if t.TradeOption == models.OptionMeetup && !t.MeetupConfirmed() {
			return fail(ReasonMeetupUnconfirmed)
		}
		at := now
		next.CompletedAt = &at
		next.MeetupConfirmedFlag = false
	}

	if r.to != "" {
		next.Status = r.to
	}
	next.UpdatedAt = now
	return next, nil
}

// Allowed возвращает действия, которые actor может выполнить прямо сейчас.
// Используется для кнопок карточки.
func (e *Engine) Allowed(t models.Trade, actor uuid.UUID, now time.Time) []models.Action {
	candidates := []models.Action{
		models.ActionAccept, models.ActionDecline, models.ActionCancel,
		models.ActionCounter, models.ActionConfirmMeetup, models.ActionComplete,
	}
	// counter проверяется с заглушкой набора, остальное как есть
	probe := models.ActionPayload{Items: []models.TradeItem{{}}}
	var out []models.Action
	for _, a := range candidates {
		if a == models.ActionConfirmMeetup && t.TradeOption == models.OptionMeetup {
			if party, ok := t.PartyOf(actor); ok && alreadyConfirmed(t, party) {
				continue
			}
		}
		if e.Validate(t, actor, a, probe, now) == nil {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) isExpired(t models.Trade, now time.Time) bool {
	if e.ExpiryThreshold <= 0 || !t.Status.IsNegotiable() || t.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(t.CreatedAt) > e.ExpiryThreshold
}

func alreadyConfirmed(t models.Trade, p models.Party) bool {
	if p == models.PartyBuyer {
		return t.BuyerMeetupConfirmed
	}
	return t.SellerMeetupConfirmed
}

func statusIn(s models.TradeStatus, set []models.TradeStatus) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}
