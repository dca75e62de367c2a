package bundle

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// Cache товары сессии по id. Значения неизменяемы, поэтому при гонке двух
// записей выигрывает последняя и это безопасно.
type Cache struct {
	items sync.Map // uuid.UUID -> models.Product
}

// NewCache создает пустой кэш
func NewCache() *Cache {
	return &Cache{}
}

// Get возвращает товар из кэша
func (c *Cache) Get(id uuid.UUID) (models.Product, bool) {
	v, ok := c.items.Load(id)
	if !ok {
		return models.Product{}, false
	}
	return v.(models.Product), true
}

// Set сохраняет товар
func (c *Cache) Set(p models.Product) {
	c.items.Store(p.ID, p)
}

// Delete удаляет товар (например, после удаления объявления)
func (c *Cache) Delete(id uuid.UUID) {
	c.items.Delete(id)
}
