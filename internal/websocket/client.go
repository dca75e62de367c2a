package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Максимальное время ожидания pong от сервера
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения серверу с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 64 * 1024

	writeWait = 10 * time.Second

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Client слушает поток событий API flippy и передаёт их в Manager.
// При обрыве соединения переподключается с экспоненциальной задержкой.
type Client struct {
	url     string
	token   string
	manager *Manager
	dialer  *websocket.Dialer
	logger  *slog.Logger

	// handle вызывается для каждого события до передачи в Manager
	handle func(Event)
}

// NewClient создает новый экземпляр Client
func NewClient(url, token string, manager *Manager, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		token:   token,
		manager: manager,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger.With("component", "upstream_feed"),
	}
}

// OnEvent регистрирует обработчик, вызываемый перед рассылкой события
func (c *Client) OnEvent(fn func(Event)) {
	c.handle = fn
}

// Run держит соединение, пока не отменён ctx
func (c *Client) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		c.logger.Warn("upstream feed disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connect открывает одно соединение и читает его до ошибки
func (c *Client) connect(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, err
	}
	c.logger.Info("upstream feed connected", "url", c.url)

	done := make(chan struct{})
	go c.writePump(ctx, conn, done)
	err = c.readPump(conn)
	close(done)
	conn.Close()
	return true, err
}

// readPump читает события до ошибки соединения
func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close error", "error", err)
			}
			return err
		}
		c.handleIncomingMessage(message)
	}
}

// writePump отправляет ping и закрывает соединение при отмене ctx
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-done:
			return
		}
	}
}

// handleIncomingMessage разбирает событие и отправляет его получателю
func (c *Client) handleIncomingMessage(message []byte) {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Warn("error unmarshaling event", "error", err)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if c.handle != nil {
		c.handle(event)
	}

	switch event.Type {
	case EventTradeUpdated, EventTradeCreated:
		c.manager.SendToUser(event.UserID, event)
	case EventProductUpdated:
		c.manager.Broadcast(event)
	default:
		c.logger.Debug("unhandled event type", "type", event.Type)
	}
}
