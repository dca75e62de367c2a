package media

import (
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"

	"github.com/rajivgeraev/flippy-offers/internal/config"
	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// ThumbnailTransformation трансформация превью для карточки обмена
const ThumbnailTransformation = "c_fill,g_auto,h_320,w_320,q_auto,f_auto"

// Thumbnailer строит ссылки на превью изображений объявлений
type Thumbnailer struct {
	cld *cloudinary.Cloudinary
}

// NewThumbnailer создает Thumbnailer. Без настроек Cloudinary возвращает nil,
// и ImageURL отдаёт исходные ссылки.
func NewThumbnailer(cfg config.CloudinaryConfig) (*Thumbnailer, error) {
	if cfg.CloudName == "" {
		return nil, nil
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Cloudinary: %w", err)
	}
	return &Thumbnailer{cld: cld}, nil
}

// ImageURL возвращает ссылку на превью изображения. Приоритет: трансформация
// Cloudinary по public_id, готовое превью, оригинал.
func (t *Thumbnailer) ImageURL(img models.ListingImage) string {
	if t != nil && img.PublicID != "" {
		asset, err := t.cld.Image(img.PublicID)
		if err == nil {
			asset.Transformation = ThumbnailTransformation
			if u, err := asset.String(); err == nil {
				return u
			}
		}
	}
	if img.PreviewURL != "" {
		return img.PreviewURL
	}
	return img.URL
}

// Product собирает краткую карточку товара из объявления
func (t *Thumbnailer) Product(l models.Listing) models.Product {
	p := models.Product{ID: l.ID, Title: l.Title}
	if img, ok := l.MainImage(); ok {
		p.ImageURL = t.ImageURL(img)
	}
	return p
}
