// Package bundle превращает ссылки на товары в обмене (целевой товар и набор
// предложенных товаров) в названия и картинки для карточек.
package bundle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
)

// Placeholder название, пока товар не загружен или не найден
const Placeholder = "Unnamed Item"

const (
	defaultLookupTimeout = 5 * time.Second
	defaultRetryAfter    = 30 * time.Second
)

// ProductLookup источник данных о товарах (каталог)
type ProductLookup interface {
	LookupProduct(ctx context.Context, productID uuid.UUID) (models.Product, error)
}

// Resolver кэширует товары на время сессии и подгружает недостающие в фоне.
// Resolve никогда не блокирует вызывающего.
type Resolver struct {
	lookup     ProductLookup
	cache      *Cache
	group      singleflight.Group
	inflight   sync.Map // uuid.UUID -> struct{}
	failed     sync.Map // uuid.UUID -> time.Time
	timeout    time.Duration
	retryAfter time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closed защищает wg.Add от гонки с Close
	mu     sync.Mutex
	closed bool
}

// Option настраивает Resolver
type Option func(*Resolver)

// WithTimeout ограничивает время одного запроса к каталогу
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithRetryAfter задаёт паузу перед повтором неудачного запроса
func WithRetryAfter(d time.Duration) Option {
	return func(r *Resolver) { r.retryAfter = d }
}

// NewResolver создает новый экземпляр Resolver
func NewResolver(lookup ProductLookup, logger *slog.Logger, opts ...Option) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		lookup:     lookup,
		cache:      NewCache(),
		timeout:    defaultLookupTimeout,
		retryAfter: defaultRetryAfter,
		logger:     logger.With("component", "bundle_resolver"),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed кладёт в кэш данные, пришедшие вместе с обменом
func (r *Resolver) Seed(p models.Product) {
	if p.ID == uuid.Nil || p.Title == "" {
		return
	}
	r.cache.Set(p)
}

// Forget удаляет товар из кэша, следующий Resolve загрузит его заново
func (r *Resolver) Forget(productID uuid.UUID) {
	r.cache.Delete(productID)
	r.failed.Delete(productID)
}

// Resolve возвращает название товара. Если товара нет в кэше, сразу возвращает
// fallbackTitle (или Placeholder) и запускает фоновую загрузку.
func (r *Resolver) Resolve(productID uuid.UUID, fallbackTitle string) string {
	p := r.ResolveProduct(productID)
	if p.Title != "" {
		return p.Title
	}
	if fallbackTitle != "" {
		return fallbackTitle
	}
	return Placeholder
}

// ResolveProduct возвращает товар из кэша или пустой товар, запуская загрузку
func (r *Resolver) ResolveProduct(productID uuid.UUID) models.Product {
	if p, ok := r.cache.Get(productID); ok {
		return p
	}
	if productID != uuid.Nil {
		r.startLookup(productID)
	}
	return models.Product{ID: productID}
}

// Fetch загружает товар синхронно, разделяя запрос с фоновыми загрузками.
// Используется карточкой одного обмена, которой нужны названия сразу.
func (r *Resolver) Fetch(ctx context.Context, productID uuid.UUID) (models.Product, error) {
	if p, ok := r.cache.Get(productID); ok {
		return p, nil
	}
	ch := r.group.DoChan(productID.String(), func() (interface{}, error) {
		return r.load(productID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Product{}, res.Err
		}
		return res.Val.(models.Product), nil
	case <-ctx.Done():
		return models.Product{}, ctx.Err()
	}
}

// Annotate заполняет названия и картинки товаров в копиях обменов.
// Данные, пришедшие в самом обмене, имеют приоритет и попадают в кэш.
func (r *Resolver) Annotate(trades []models.Trade) []models.Trade {
	out := make([]models.Trade, len(trades))
	for i, t := range trades {
		t = t.Clone()

		r.Seed(models.Product{ID: t.TargetProductID, Title: t.TargetProductTitle, ImageURL: t.TargetProductImageURL})
		target := r.ResolveProduct(t.TargetProductID)
		t.TargetProductTitle = firstNonEmpty(t.TargetProductTitle, target.Title, Placeholder)
		t.TargetProductImageURL = firstNonEmpty(t.TargetProductImageURL, target.ImageURL)

		for j := range t.Items {
			it := &t.Items[j]
			r.Seed(models.Product{ID: it.ProductID, Title: it.Title, ImageURL: it.ImageURL})
			p := r.ResolveProduct(it.ProductID)
			it.Title = firstNonEmpty(it.Title, p.Title, Placeholder)
			it.ImageURL = firstNonEmpty(it.ImageURL, p.ImageURL)
		}
		out[i] = t
	}
	return out
}

// Close отменяет фоновые загрузки и ждёт их завершения.
// Resolve после Close только читает кэш.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Resolver) startLookup(productID uuid.UUID) {
	if at, ok := r.failed.Load(productID); ok && time.Since(at.(time.Time)) < r.retryAfter {
		return
	}
	if _, loaded := r.inflight.LoadOrStore(productID, struct{}{}); loaded {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.inflight.Delete(productID)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.inflight.Delete(productID)

		r.group.Do(productID.String(), func() (interface{}, error) {
			return r.load(productID)
		})
	}()
}

// load выполняет один запрос к каталогу и обновляет кэш
func (r *Resolver) load(productID uuid.UUID) (models.Product, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	p, err := r.lookup.LookupProduct(ctx, productID)
	if err != nil {
		r.failed.Store(productID, time.Now())
		rerr := &trade.ResolutionError{ProductID: productID, Err: err}
		r.logger.Warn("product lookup failed", "product_id", productID, "error", rerr)
		return models.Product{}, rerr
	}
	p.ID = productID
	if p.Title == "" {
		p.Title = Placeholder
	}
	r.failed.Delete(productID)
	r.cache.Set(p)
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
