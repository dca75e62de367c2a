package offers

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// View страница вкладки вместе со счётчиками и признаком устаревших данных
type View struct {
	Bucket Bucket `json:"bucket"`
	Page
	Counts    Counts    `json:"counts"`
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status состояние последнего обновления
type Status struct {
	Loaded    bool      `json:"loaded"`
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transform применяется к списку перед раскладкой по вкладкам
// (локальные действия, названия товаров)
type Transform func([]models.Trade) []models.Trade

// Builder хранит последний успешно загруженный список обменов пользователя и
// строит из него вкладки. Ошибка загрузки не очищает список: показываются
// прежние данные с признаком stale.
type Builder struct {
	viewer   uuid.UUID
	pageSize int

	mu        sync.RWMutex
	raw       []models.Trade
	counts    Counts
	loaded    bool
	lastErr   error
	updatedAt time.Time
	cursors   map[Bucket]int
}

// NewBuilder создает новый экземпляр Builder
func NewBuilder(viewer uuid.UUID, pageSize int) *Builder {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Builder{
		viewer:   viewer,
		pageSize: pageSize,
		cursors:  make(map[Bucket]int, len(Buckets)),
	}
}

// Replace заменяет список результатом обновления и пересчитывает счётчики
func (b *Builder) Replace(raw []models.Trade, at time.Time) {
	list := make([]models.Trade, len(raw))
	copy(list, raw)
	counts := Count(list, b.viewer)

	b.mu.Lock()
	b.raw = list
	b.counts = counts
	b.loaded = true
	b.lastErr = nil
	b.updatedAt = at
	b.mu.Unlock()
}

// Upsert заменяет один обмен ответом сервера на действие пользователя
func (b *Builder) Upsert(t models.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]models.Trade, 0, len(b.raw)+1)
	found := false
	for _, cur := range b.raw {
		if cur.ID == t.ID {
			list = append(list, t)
			found = true
			continue
		}
		list = append(list, cur)
	}
	if !found {
		list = append(list, t)
	}
	b.raw = list
	b.counts = Count(list, b.viewer)
}

// MarkFailed отмечает неудачное обновление, сохраняя прежний список
func (b *Builder) MarkFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// Raw копия полного списка, включая отклонённые и отменённые обмены
func (b *Builder) Raw() []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Trade, len(b.raw))
	copy(out, b.raw)
	return out
}

// Find ищет обмен по id
func (b *Builder) Find(id uuid.UUID) (models.Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.raw {
		if t.ID == id {
			return t, true
		}
	}
	return models.Trade{}, false
}

// Counts счётчики последнего списка
func (b *Builder) Counts() Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts
}

// Status состояние последнего обновления
func (b *Builder) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statusLocked()
}

func (b *Builder) statusLocked() Status {
	s := Status{Loaded: b.loaded, UpdatedAt: b.updatedAt}
	if b.lastErr != nil {
		s.Stale = true
		s.Error = b.lastErr.Error()
	}
	return s
}

// View строит страницу вкладки. page == 0 означает "последняя открытая
// страница этой вкладки"; у каждой вкладки свой курсор.
func (b *Builder) View(bucket Bucket, q Query, page int, transform Transform) View {
	b.mu.Lock()
	if page <= 0 {
		page = b.cursors[bucket]
	}
	raw := make([]models.Trade, len(b.raw))
	copy(raw, b.raw)
	counts := b.counts
	status := b.statusLocked()
	b.mu.Unlock()

	if transform != nil {
		raw = transform(raw)
	}
	p := Paginate(Bucketize(raw, b.viewer, bucket, q), page, b.pageSize)

	b.mu.Lock()
	b.cursors[bucket] = p.Page
	b.mu.Unlock()

	return View{
		Bucket:    bucket,
		Page:      p,
		Counts:    counts,
		Stale:     status.Stale,
		Error:     status.Error,
		UpdatedAt: status.UpdatedAt,
	}
}

// Cursor текущая страница вкладки
func (b *Builder) Cursor(bucket Bucket) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c := b.cursors[bucket]; c > 0 {
		return c
	}
	return 1
}
