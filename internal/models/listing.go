package models

import (
	"github.com/google/uuid"
)

// Product краткая информация о товаре (объявлении) для карточки обмена
type Product struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	ImageURL string    `json:"image_url,omitempty"`
}

// Listing представляет объявление в том виде, в каком его отдаёт каталог
type Listing struct {
	ID     uuid.UUID      `json:"id"`
	UserID uuid.UUID      `json:"user_id"`
	Title  string         `json:"title"`
	Status string         `json:"status"`
	Images []ListingImage `json:"images"`
}

// ListingImage представляет изображение объявления
type ListingImage struct {
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
	PublicID   string `json:"public_id"`
	IsMain     bool   `json:"is_main"`
}

// MainImage возвращает главное изображение или первое по порядку
func (l *Listing) MainImage() (ListingImage, bool) {
	for _, img := range l.Images {
		if img.IsMain {
			return img, true
		}
	}
	if len(l.Images) > 0 {
		return l.Images[0], true
	}
	return ListingImage{}, false
}
