package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestManager_SendToUser(t *testing.T) {
	m := NewManager(testLogger())
	a1 := m.Subscribe("alice")
	a2 := m.Subscribe("alice")
	b := m.Subscribe("bob")

	m.SendToUser("alice", Event{Type: EventTradeUpdated, TradeID: "t1"})

	for _, sub := range []*Subscriber{a1, a2} {
		ev := receive(t, sub)
		assert.Equal(t, EventTradeUpdated, ev.Type)
		assert.Equal(t, "alice", ev.UserID)
		assert.False(t, ev.Timestamp.IsZero())
	}
	select {
	case <-b.Events():
		t.Fatal("bob must not receive alice's event")
	default:
	}
}

func TestManager_UnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(testLogger())
	sub := m.Subscribe("alice")
	assert.True(t, m.Online("alice"))

	m.Unsubscribe(sub.ID)
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.False(t, m.Online("alice"))

	// повторная отписка и отправка офлайн-пользователю безопасны
	m.Unsubscribe(sub.ID)
	m.SendToUser("alice", Event{Type: EventTradeUpdated})
}

func TestManager_FullBufferDropsEvents(t *testing.T) {
	m := NewManager(testLogger())
	sub := m.Subscribe("alice")

	for i := 0; i < subscriberBufferSize*2; i++ {
		m.SendToUser("alice", Event{Type: EventTradeUpdated})
	}
	assert.Len(t, sub.send, subscriberBufferSize)
}

func TestManager_BroadcastAndShutdown(t *testing.T) {
	m := NewManager(testLogger())
	a := m.Subscribe("alice")
	b := m.Subscribe("bob")

	m.Broadcast(Event{Type: EventProductUpdated, ProductID: "p1"})
	assert.Equal(t, "p1", receive(t, a).ProductID)
	assert.Equal(t, "p1", receive(t, b).ProductID)

	m.Shutdown()
	_, ok := <-a.Events()
	assert.False(t, ok)
}

// feedServer отдаёт события каждому новому подключению и закрывает его
func feedServer(t *testing.T, messages ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer feed-token", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestClient_ForwardsEventsAndReconnects(t *testing.T) {
	srv, conns := feedServer(t,
		`{"type":"trade_updated","trade_id":"t1","user_id":"alice"}`,
		`not json`,
		`{"type":"product_updated","product_id":"p9"}`,
	)

	m := NewManager(testLogger())
	alice := m.Subscribe("alice")

	var seen atomic.Int32
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "feed-token", m, testLogger())
	c.OnEvent(func(Event) { seen.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	ev := receive(t, alice)
	assert.Equal(t, EventTradeUpdated, ev.Type)
	assert.Equal(t, "t1", ev.TradeID)

	ev = receive(t, alice)
	assert.Equal(t, EventProductUpdated, ev.Type)
	assert.Equal(t, "p9", ev.ProductID)

	// сервер закрывает соединение, клиент подключается снова через minBackoff
	assert.Eventually(t, func() bool { return conns.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, seen.Load(), int32(2))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
