package offers

import (
	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// DefaultPageSize размер страницы по умолчанию
const DefaultPageSize = 10

// Page одна страница вкладки
type Page struct {
	Trades     []models.Trade `json:"trades"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalItems int            `json:"total_items"`
	TotalPages int            `json:"total_pages"`
}

// PageCount количество страниц: ceil(total / size)
func PageCount(total, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	return (total + size - 1) / size
}

// Paginate возвращает страницу page (с 1). Номер за пределами диапазона
// прижимается к первой или последней странице.
func Paginate(items []models.Trade, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	pages := PageCount(len(items), size)
	page = clampPage(page, pages)

	start := (page - 1) * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	return Page{
		Trades:     items[start:end],
		Page:       page,
		PageSize:   size,
		TotalItems: len(items),
		TotalPages: pages,
	}
}

func clampPage(page, pages int) int {
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}
	return page
}
