package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Размер буфера событий одного подписчика
const subscriberBufferSize = 16

// EventType определяет тип события
type EventType string

const (
	EventTradeUpdated   EventType = "trade_updated"
	EventTradeCreated   EventType = "trade_created"
	EventProductUpdated EventType = "product_updated"
)

// Event представляет структуру события об обменах
type Event struct {
	Type      EventType       `json:"type"`
	TradeID   string          `json:"trade_id,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Subscriber получатель событий одного пользователя
type Subscriber struct {
	ID     uuid.UUID
	UserID string
	send   chan Event
}

// Events канал событий; закрывается при отписке
func (s *Subscriber) Events() <-chan Event { return s.send }

// Manager раздаёт события об обменах сессиям пользователей
type Manager struct {
	subscribers      map[uuid.UUID]*Subscriber
	subscribersMutex sync.RWMutex
	userSubscribers  map[string]map[uuid.UUID]bool // userID -> map[subscriberID]bool
	userMutex        sync.RWMutex
	logger           *slog.Logger
}

// NewManager создает новый экземпляр Manager
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		subscribers:     make(map[uuid.UUID]*Subscriber),
		userSubscribers: make(map[string]map[uuid.UUID]bool),
		logger:          logger.With("component", "event_hub"),
	}
}

// Subscribe регистрирует нового подписчика пользователя
func (m *Manager) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New(),
		UserID: userID,
		send:   make(chan Event, subscriberBufferSize),
	}

	m.subscribersMutex.Lock()
	m.subscribers[sub.ID] = sub
	m.subscribersMutex.Unlock()

	m.userMutex.Lock()
	if _, exists := m.userSubscribers[userID]; !exists {
		m.userSubscribers[userID] = make(map[uuid.UUID]bool)
	}
	m.userSubscribers[userID][sub.ID] = true
	m.userMutex.Unlock()

	m.logger.Debug("subscriber added", "subscriber_id", sub.ID, "user_id", userID)
	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал
func (m *Manager) Unsubscribe(subscriberID uuid.UUID) {
	m.subscribersMutex.Lock()
	sub, exists := m.subscribers[subscriberID]
	if exists {
		delete(m.subscribers, subscriberID)
	}
	m.subscribersMutex.Unlock()

	if !exists {
		return
	}

	m.userMutex.Lock()
	if subs, ok := m.userSubscribers[sub.UserID]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.userSubscribers, sub.UserID)
		}
	}
	m.userMutex.Unlock()

	close(sub.send)
	m.logger.Debug("subscriber removed", "subscriber_id", subscriberID, "user_id", sub.UserID)
}

// SendToUser отправляет событие всем подписчикам пользователя. Если у
// подписчика полон буфер, событие для него отбрасывается: обновления всё
// равно склеиваются в одно.
func (m *Manager) SendToUser(userID string, event Event) {
	if userID == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.UserID = userID

	m.userMutex.RLock()
	ids := make([]uuid.UUID, 0, len(m.userSubscribers[userID]))
	for id := range m.userSubscribers[userID] {
		ids = append(ids, id)
	}
	m.userMutex.RUnlock()

	// Пользователь не онлайн в этом процессе
	if len(ids) == 0 {
		return
	}

	m.subscribersMutex.RLock()
	defer m.subscribersMutex.RUnlock()
	for _, id := range ids {
		sub, ok := m.subscribers[id]
		if !ok {
			continue
		}
		m.deliver(sub, event)
	}
}

// Broadcast отправляет событие всем подписчикам
func (m *Manager) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.subscribersMutex.RLock()
	defer m.subscribersMutex.RUnlock()
	for _, sub := range m.subscribers {
		m.deliver(sub, event)
	}
}

// deliver вызывается под subscribersMutex, поэтому канал не может быть закрыт
func (m *Manager) deliver(sub *Subscriber, event Event) {
	select {
	case sub.send <- event:
	default:
		m.logger.Debug("subscriber buffer full, dropping event", "subscriber_id", sub.ID, "type", event.Type)
	}
}

// Online сообщает, есть ли у пользователя подписчики
func (m *Manager) Online(userID string) bool {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userSubscribers[userID]) > 0
}

// Shutdown закрывает все подписки
func (m *Manager) Shutdown() {
	m.subscribersMutex.Lock()
	for _, sub := range m.subscribers {
		close(sub.send)
	}
	m.subscribers = make(map[uuid.UUID]*Subscriber)
	m.subscribersMutex.Unlock()

	m.userMutex.Lock()
	m.userSubscribers = make(map[string]map[uuid.UUID]bool)
	m.userMutex.Unlock()
}
