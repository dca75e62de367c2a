package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/flippy-offers/internal/bundle"
	"github.com/rajivgeraev/flippy-offers/internal/models"
)

const (
	// DefaultTTL время жизни товара в общем кэше
	DefaultTTL = 6 * time.Hour

	// KeyPrefix префикс ключей товаров
	KeyPrefix = "product:"
)

// ProductCache общий для всех сессий кэш товаров поверх любого источника.
// Ошибки Redis не мешают загрузке: запрос уходит в источник напрямую.
type ProductCache struct {
	client *redis.Client
	next   bundle.ProductLookup
	ttl    time.Duration
	logger *slog.Logger
}

// NewProductCache создает новый экземпляр ProductCache
func NewProductCache(client *redis.Client, next bundle.ProductLookup, ttl time.Duration, logger *slog.Logger) *ProductCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProductCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger.With("component", "product_cache"),
	}
}

func key(id uuid.UUID) string {
	return KeyPrefix + id.String()
}

// LookupProduct возвращает товар из Redis или из источника
func (c *ProductCache) LookupProduct(ctx context.Context, productID uuid.UUID) (models.Product, error) {
	p, found, err := c.Get(ctx, productID)
	if err != nil {
		c.logger.Warn("cache read failed", "product_id", productID, "error", err)
	}
	if found {
		return p, nil
	}

	p, err = c.next.LookupProduct(ctx, productID)
	if err != nil {
		return models.Product{}, err
	}
	if err := c.Set(ctx, p); err != nil {
		c.logger.Warn("cache write failed", "product_id", productID, "error", err)
	}
	return p, nil
}

// Get читает товар из Redis
func (c *ProductCache) Get(ctx context.Context, productID uuid.UUID) (models.Product, bool, error) {
	val, err := c.client.Get(ctx, key(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Product{}, false, nil
	}
	if err != nil {
		return models.Product{}, false, fmt.Errorf("failed to get cached product: %w", err)
	}

	var p models.Product
	if err := json.Unmarshal(val, &p); err != nil {
		return models.Product{}, false, fmt.Errorf("failed to unmarshal cached product: %w", err)
	}
	return p, true, nil
}

// Set сохраняет товар в Redis
func (c *ProductCache) Set(ctx context.Context, p models.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	if err := c.client.Set(ctx, key(p.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache product: %w", err)
	}
	return nil
}

// Invalidate удаляет товар из общего кэша (объявление изменено или удалено)
func (c *ProductCache) Invalidate(ctx context.Context, productID uuid.UUID) error {
	if err := c.client.Del(ctx, key(productID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate product: %w", err)
	}
	return nil
}
