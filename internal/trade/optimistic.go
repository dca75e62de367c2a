package trade

import (
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// PendingAction локальное действие, отправленное на сервер, но ещё не
// подтверждённое обновлением списка
type PendingAction struct {
	TradeID  uuid.UUID
	Actor    uuid.UUID
	Action   models.Action
	Payload  models.ActionPayload
	IssuedAt time.Time

	// Состояние сервера, поверх которого действие было применено
	BaseStatus    models.TradeStatus
	BaseUpdatedAt time.Time
}

// NewPendingAction фиксирует действие поверх серверного состояния base
func NewPendingAction(base models.Trade, actor uuid.UUID, action models.Action, payload models.ActionPayload, now time.Time) PendingAction {
	return PendingAction{
		TradeID:       base.ID,
		Actor:         actor,
		Action:        action,
		Payload:       payload,
		IssuedAt:      now,
		BaseStatus:    base.Status,
		BaseUpdatedAt: base.UpdatedAt,
	}
}

// SettledBy: сервер уже подтвердил или перезаписал состояние, на котором
// строилось действие
func (p PendingAction) SettledBy(server models.Trade) bool {
	return server.Status != p.BaseStatus || server.UpdatedAt.After(p.BaseUpdatedAt)
}

// Reduce строит предварительное представление: серверный список плюс ещё не
// подтверждённые локальные действия. Действие отбрасывается, как только сервер
// подтвердил или перезаписал его базу, а также если оно больше не применимо.
// Возвращает представление и оставшиеся действия.
func (e *Engine) Reduce(server []models.Trade, pending []PendingAction) ([]models.Trade, []PendingAction) {
	if len(pending) == 0 {
		return server, nil
	}

	index := make(map[uuid.UUID]int, len(server))
	view := make([]models.Trade, len(server))
	for i, t := range server {
		view[i] = t
		index[t.ID] = i
	}

	var remaining []PendingAction
	for _, p := range pending {
		i, ok := index[p.TradeID]
		if !ok {
			continue
		}
		if p.SettledBy(server[i]) {
			continue
		}
		next, err := e.Apply(view[i], p.Actor, p.Action, p.Payload, p.IssuedAt)
		if err != nil {
			continue
		}
		view[i] = next
		remaining = append(remaining, p)
	}
	return view, remaining
}
