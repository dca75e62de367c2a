package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/bundle"
	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
	"github.com/rajivgeraev/flippy-offers/internal/websocket"
)

// ErrClosed менеджер сессий остановлен
var ErrClosed = errors.New("session manager closed")

// Manager хранит сессии пользователей и закрывает неактивные
type Manager struct {
	gateway Gateway
	lookup  bundle.ProductLookup
	engine  *trade.Engine
	hub     *websocket.Manager
	opts    Options
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewManager создает новый экземпляр Manager. idleTTL <= 0 отключает вытеснение.
func NewManager(gw Gateway, lookup bundle.ProductLookup, engine *trade.Engine, hub *websocket.Manager, opts Options, idleTTL time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:  gw,
		lookup:   lookup,
		engine:   engine,
		hub:      hub,
		opts:     opts,
		idleTTL:  idleTTL,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Get возвращает сессию пользователя, создавая её при первом обращении
func (m *Manager) Get(viewer models.Viewer) (*Session, error) {
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[viewer.ID]; ok {
		s.touch(viewer.Token, now)
		return s, nil
	}

	s := newSession(viewer, m.gateway, m.lookup, m.engine, m.hub, m.opts, m.logger)
	s.start()
	m.sessions[viewer.ID] = s
	m.logger.Info("session started", "user_id", viewer.ID, "sessions", len(m.sessions))
	return s, nil
}

// Len количество активных сессий
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run периодически закрывает сессии, неактивные дольше idleTTL
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// EvictIdle закрывает сессии, неактивные дольше idleTTL
func (m *Manager) EvictIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	deadline := m.opts.now().Add(-m.idleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(deadline) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		m.logger.Info("session evicted", "user_id", s.UserID())
	}
	return len(idle)
}

// Shutdown закрывает все сессии
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
