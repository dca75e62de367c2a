// Package session держит состояние раздела "Мои обмены" для одного
// пользователя: последний список с сервера, локальные действия, ожидающие
// подтверждения, кэш товаров и политику обновления.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/flippy-offers/internal/bundle"
	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/offers"
	"github.com/rajivgeraev/flippy-offers/internal/refresh"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
	"github.com/rajivgeraev/flippy-offers/internal/websocket"
)

// ErrUnknownTrade обмена нет в последнем загруженном списке
var ErrUnknownTrade = errors.New("trade not found in current list")

// Gateway операции над обменами на стороне сервера
type Gateway interface {
	ListTrades(ctx context.Context, viewer models.Viewer, dir models.Direction) ([]models.Trade, error)
	ApplyAction(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID, action models.Action, payload models.ActionPayload) (models.Trade, error)
	ConfirmMeetup(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID) (models.Trade, error)
}

// Options настройки сессий
type Options struct {
	PageSize     int
	PollInterval time.Duration
	Now          func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Session состояние одного пользователя
type Session struct {
	userID   uuid.UUID
	gateway  Gateway
	engine   *trade.Engine
	resolver *bundle.Resolver
	builder  *offers.Builder
	policy   *refresh.Policy
	hub      *websocket.Manager
	sub      *websocket.Subscriber
	opts     Options
	logger   *slog.Logger

	first *refresh.Ticket

	mu       sync.Mutex
	token    string
	pending  []trade.PendingAction
	lastSeen time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession(viewer models.Viewer, gw Gateway, lookup bundle.ProductLookup, engine *trade.Engine, hub *websocket.Manager, opts Options, logger *slog.Logger) *Session {
	logger = logger.With("user_id", viewer.ID)
	s := &Session{
		userID:   viewer.ID,
		gateway:  gw,
		engine:   engine,
		resolver: bundle.NewResolver(lookup, logger),
		builder:  offers.NewBuilder(viewer.ID, opts.PageSize),
		hub:      hub,
		opts:     opts,
		logger:   logger.With("component", "session"),
		token:    viewer.Token,
		lastSeen: opts.now(),
	}
	s.policy = refresh.NewPolicy(s.fetch, s.apply, opts.PollInterval, logger)
	return s
}

// start запускает первое обновление, опрос и подписку на события
func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.first = s.policy.Request()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.policy.Run(ctx)
	}()

	if s.hub != nil {
		s.sub = s.hub.Subscribe(s.userID.String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listen(s.sub.Events())
		}()
	}
}

// listen обрабатывает события об обменах пользователя
func (s *Session) listen(events <-chan websocket.Event) {
	for ev := range events {
		switch ev.Type {
		case websocket.EventTradeUpdated, websocket.EventTradeCreated:
			s.logger.Debug("trade event, requesting refresh", "trade_id", ev.TradeID)
			s.policy.Request()
		case websocket.EventProductUpdated:
			if id, err := uuid.Parse(ev.ProductID); err == nil {
				s.resolver.Forget(id)
			}
		}
	}
}

// Close останавливает фоновые горутины сессии
func (s *Session) Close() {
	if s.sub != nil {
		s.hub.Unsubscribe(s.sub.ID)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.policy.Stop()
	s.wg.Wait()
	s.resolver.Close()
}

// UserID владелец сессии
func (s *Session) UserID() uuid.UUID { return s.userID }

func (s *Session) viewer() models.Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Viewer{ID: s.userID, Token: s.token}
}

// touch обновляет токен и время последнего обращения
func (s *Session) touch(token string, now time.Time) {
	s.mu.Lock()
	if token != "" {
		s.token = token
	}
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// fetch загружает входящие и исходящие обмены параллельно и объединяет их
func (s *Session) fetch(ctx context.Context) ([]models.Trade, error) {
	viewer := s.viewer()
	var incoming, outgoing []models.Trade

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		incoming, err = s.gateway.ListTrades(gctx, viewer, models.DirectionIncoming)
		return err
	})
	g.Go(func() error {
		var err error
		outgoing, err = s.gateway.ListTrades(gctx, viewer, models.DirectionOutgoing)
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, trade.ErrTransientFetch) && ctx.Err() == nil {
			err = &trade.TransientFetchError{Op: "list trades", Err: err}
		}
		return nil, err
	}
	return mergeTrades(incoming, outgoing), nil
}

// mergeTrades объединяет списки по id, оставляя более свежую версию
func mergeTrades(lists ...[]models.Trade) []models.Trade {
	index := make(map[uuid.UUID]int)
	var out []models.Trade
	for _, list := range lists {
		for _, t := range list {
			t.NormalizeMeetup()
			if i, ok := index[t.ID]; ok {
				if t.UpdatedAt.After(out[i].UpdatedAt) {
					out[i] = t
				}
				continue
			}
			index[t.ID] = len(out)
			out = append(out, t)
		}
	}
	return out
}

// apply вызывается политикой только для последнего запроса
func (s *Session) apply(seq uint64, trades []models.Trade, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("refresh failed, keeping previous list", "seq", seq, "error", err)
		s.builder.MarkFailed(err)
		return
	}

	s.builder.Replace(trades, s.opts.now())
	s.settle(trades)
	s.logger.Debug("refresh applied", "seq", seq, "trades", len(trades))
}

// settle убирает локальные действия, которые сервер уже подтвердил или перезаписал
func (s *Session) settle(server []models.Trade) {
	index := make(map[uuid.UUID]int, len(server))
	for i, t := range server {
		index[t.ID] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, p := range s.pending {
		i, ok := index[p.TradeID]
		if !ok || p.SettledBy(server[i]) {
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
}

func (s *Session) pendingSnapshot() []trade.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]trade.PendingAction, len(s.pending))
	copy(out, s.pending)
	return out
}

// transform накладывает локальные действия и подставляет названия товаров
func (s *Session) transform(raw []models.Trade) []models.Trade {
	view, _ := s.engine.Reduce(raw, s.pendingSnapshot())
	return s.resolver.Annotate(view)
}

// WaitLoaded ждёт первого обновления
func (s *Session) WaitLoaded(ctx context.Context) error {
	if s.first == nil {
		return nil
	}
	err := s.first.Wait(ctx)
	if errors.Is(err, refresh.ErrSuperseded) {
		return nil
	}
	return err
}

// View страница вкладки
func (s *Session) View(bucket offers.Bucket, q offers.Query, page int) offers.View {
	return s.builder.View(bucket, q, page, s.transform)
}

// Counts счётчики бейджей по серверному списку
func (s *Session) Counts() offers.Counts {
	return s.builder.Counts()
}

// Status состояние последнего обновления
func (s *Session) Status() offers.Status {
	return s.builder.Status()
}

// Raw полный список, включая отклонённые и отменённые обмены
func (s *Session) Raw() []models.Trade {
	return s.transform(s.builder.Raw())
}

// Trade текущее представление одного обмена
func (s *Session) Trade(tradeID uuid.UUID) (models.Trade, bool) {
	t, ok := s.builder.Find(tradeID)
	if !ok {
		return models.Trade{}, false
	}
	view := s.transform([]models.Trade{t})
	return view[0], true
}

// Detail текущее представление обмена с дозагруженными товарами.
// В отличие от Trade ждёт ответа каталога, пока не истечёт ctx.
func (s *Session) Detail(ctx context.Context, tradeID uuid.UUID) (models.Trade, bool) {
	t, ok := s.builder.Find(tradeID)
	if !ok {
		return models.Trade{}, false
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range t.ProductIDs() {
		g.Go(func() error {
			if _, err := s.resolver.Fetch(gctx, id); err != nil {
				s.logger.Debug("product not resolved for trade detail", "trade_id", tradeID, "product_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	view := s.transform([]models.Trade{t})
	return view[0], true
}

// Allowed действия, доступные пользователю над обменом
func (s *Session) Allowed(t models.Trade) []models.Action {
	return s.engine.Allowed(t, s.userID, s.opts.now())
}

// Refresh принудительно перечитывает список и ждёт результата
func (s *Session) Refresh(ctx context.Context) error {
	err := s.policy.Supersede().Wait(ctx)
	if errors.Is(err, refresh.ErrSuperseded) {
		return nil
	}
	return err
}

// ConfirmMeetup подтверждает встречу от имени пользователя
func (s *Session) ConfirmMeetup(ctx context.Context, tradeID uuid.UUID) (models.Trade, error) {
	return s.Act(ctx, tradeID, models.ActionConfirmMeetup, models.ActionPayload{})
}

// Act выполняет действие над обменом: проверка перехода, локальное применение,
// запись на сервер. При ошибке локальное изменение откатывается целиком.
func (s *Session) Act(ctx context.Context, tradeID uuid.UUID, action models.Action, payload models.ActionPayload) (models.Trade, error) {
	server, ok := s.builder.Find(tradeID)
	if !ok {
		s.policy.Request()
		return models.Trade{}, &trade.StaleStateError{TradeID: tradeID, Err: ErrUnknownTrade}
	}

	// Истечение срока выставляет только сервер
	if action == models.ActionExpire {
		return models.Trade{}, &trade.InvalidTransitionError{TradeID: tradeID, Action: action, Status: server.Status, Reason: trade.ReasonRole}
	}

	now := s.opts.now()
	local, _ := s.engine.Reduce([]models.Trade{server}, s.pendingSnapshot())
	optimistic, err := s.engine.Apply(local[0], s.userID, action, payload, now)
	if err != nil {
		// Завершённый или истёкший обмен значит, что список устарел
		if trade.NeedsRefresh(err) {
			s.policy.Request()
		}
		return models.Trade{}, err
	}

	pa := trade.NewPendingAction(server, s.userID, action, payload, now)
	s.mu.Lock()
	s.pending = append(s.pending, pa)
	s.mu.Unlock()

	updated, err := s.write(ctx, tradeID, action, payload)
	s.dropPending(pa)

	if err != nil {
		var se *trade.StaleStateError
		if errors.As(err, &se) && se.Local == "" {
			se.Local = local[0].Status
		}
		if trade.NeedsRefresh(err) {
			s.policy.Supersede()
		}
		s.logger.Warn("trade action failed", "trade_id", tradeID, "action", action, "error", err)
		return models.Trade{}, err
	}

	if updated.ID == uuid.Nil {
		updated = optimistic
	}
	updated.NormalizeMeetup()
	s.builder.Upsert(updated)
	s.policy.Supersede()
	s.notifyCounterparty(updated)

	s.logger.Info("trade action applied", "trade_id", tradeID, "action", action, "status", updated.Status)
	return s.resolver.Annotate([]models.Trade{updated})[0], nil
}

func (s *Session) write(ctx context.Context, tradeID uuid.UUID, action models.Action, payload models.ActionPayload) (models.Trade, error) {
	viewer := s.viewer()
	var (
		t   models.Trade
		err error
	)
	if action == models.ActionConfirmMeetup {
		t, err = s.gateway.ConfirmMeetup(ctx, viewer, tradeID)
	} else {
		t, err = s.gateway.ApplyAction(ctx, viewer, tradeID, action, payload)
	}
	if err != nil {
		return models.Trade{}, fmt.Errorf("%s trade %s: %w", action, tradeID, err)
	}
	return t, nil
}

// dropPending убирает действие после ответа сервера
func (s *Session) dropPending(pa trade.PendingAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.TradeID == pa.TradeID && p.Action == pa.Action && p.IssuedAt.Equal(pa.IssuedAt) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// notifyCounterparty просит сессию второй стороны (если она в этом процессе) обновиться
func (s *Session) notifyCounterparty(t models.Trade) {
	if s.hub == nil {
		return
	}
	other := t.BuyerID
	if other == s.userID {
		other = t.SellerID
	}
	if other == uuid.Nil || other == s.userID {
		return
	}
	if !s.hub.Online(other.String()) {
		s.logger.Debug("counterparty has no session here", "trade_id", t.ID, "user_id", other)
		return
	}
	s.hub.SendToUser(other.String(), websocket.Event{Type: websocket.EventTradeUpdated, TradeID: t.ID.String()})
}
