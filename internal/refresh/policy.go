// Package refresh решает, когда перечитывать список обменов, и гарантирует,
// что в представление попадает только результат последнего выданного запроса.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// ErrSuperseded результат запроса отброшен: после него был выдан более новый
var ErrSuperseded = errors.New("refresh superseded")

// ErrStopped политика остановлена
var ErrStopped = errors.New("refresh policy stopped")

// FetchFunc загружает полный список обменов пользователя
type FetchFunc func(ctx context.Context) ([]models.Trade, error)

// ApplyFunc применяет результат загрузки. Вызывается только для последнего
// выданного запроса и под внутренней блокировкой, поэтому не должна обращаться
// к Policy.
type ApplyFunc func(seq uint64, trades []models.Trade, err error)

// Ticket результат одного запроса обновления
type Ticket struct {
	seq  uint64
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

// Done закрывается, когда запрос применён или отброшен
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err ошибка запроса; читать после Done
func (t *Ticket) Err() error { return t.err }

// Seq номер запроса
func (t *Ticket) Seq() uint64 { return t.seq }

// Wait ждёт завершения запроса или отмены ctx
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Policy управляет обновлениями одного пользователя: не больше одного
// активного запроса, повторные просьбы во время запроса склеиваются в один
// следующий, каждый запрос получает возрастающий номер, результаты
// устаревших номеров отбрасываются.
type Policy struct {
	fetch    FetchFunc
	apply    ApplyFunc
	interval time.Duration
	logger   *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	current *Ticket
	cancel  context.CancelFunc
	next    *Ticket
	stopped bool
}

// NewPolicy создает политику. interval <= 0 отключает периодический опрос.
func NewPolicy(fetch FetchFunc, apply ApplyFunc, interval time.Duration, logger *slog.Logger) *Policy {
	base, stop := context.WithCancel(context.Background())
	return &Policy{
		fetch:    fetch,
		apply:    apply,
		interval: interval,
		logger:   logger.With("component", "refresh"),
		base:     base,
		stop:     stop,
	}
}

// Request просит обновить список. Если запрос уже выполняется, просьба
// склеивается в один следующий запрос после него.
func (p *Policy) Request() *Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return stoppedTicket()
	}
	if p.current != nil {
		if p.next == nil {
			p.next = newTicket()
		}
		return p.next
	}
	t := newTicket()
	p.start(t)
	return t
}

// Supersede немедленно выдаёт новый запрос, отменяя текущий. Результат
// отменённого запроса будет отброшен, даже если он придёт позже нового.
func (p *Policy) Supersede() *Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return stoppedTicket()
	}
	if p.cancel != nil {
		p.cancel()
	}
	t := p.next
	if t == nil {
		t = newTicket()
	}
	p.next = nil
	p.start(t)
	return t
}

// Seq номер последнего выданного запроса
func (p *Policy) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Run опрашивает сервер с интервалом, пока не отменён ctx или не вызван Stop.
// Первое обновление запрашивает вызывающий.
func (p *Policy) Run(ctx context.Context) {
	if p.interval <= 0 {
		select {
		case <-ctx.Done():
		case <-p.base.Done():
		}
		p.Stop()
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("refresh loop stopping (context done)")
			p.Stop()
			return
		case <-p.base.Done():
			return
		case <-ticker.C:
			p.Request()
		}
	}
}

// Stop отменяет текущий запрос и ждёт завершения горутин
func (p *Policy) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.stop()
	if p.next != nil {
		p.next.finish(ErrStopped)
		p.next = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// start выдаёт новый номер и запускает загрузку; вызывается под p.mu
func (p *Policy) start(t *Ticket) {
	p.seq++
	t.seq = p.seq

	ctx, cancel := context.WithCancel(p.base)
	p.current = t
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx, cancel, t)
}

func (p *Policy) run(ctx context.Context, cancel context.CancelFunc, t *Ticket) {
	defer p.wg.Done()

	trades, err := p.fetch(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.seq != p.seq || p.stopped {
		p.logger.Debug("discarding superseded refresh", "seq", t.seq, "latest", p.seq)
		if p.stopped && t.seq == p.seq {
			p.current = nil
			t.finish(ErrStopped)
			return
		}
		t.finish(ErrSuperseded)
		return
	}

	p.current = nil
	p.cancel = nil
	p.apply(t.seq, trades, err)
	t.finish(err)

	if p.next != nil {
		nt := p.next
		p.next = nil
		p.start(nt)
	}
}

func stoppedTicket() *Ticket {
	t := newTicket()
	t.finish(ErrStopped)
	return t
}
