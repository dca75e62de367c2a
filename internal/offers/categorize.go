// Package offers раскладывает список обменов пользователя по вкладкам
// (отправленные, входящие, в работе, история), фильтрует, сортирует и
// постранично отдаёт каждую вкладку, а также считает счётчики для бейджей.
package offers

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// Bucket вкладка списка предложений
type Bucket string

const (
	BucketSent     Bucket = "sent"
	BucketReceived Bucket = "received"
	BucketOngoing  Bucket = "ongoing"
	BucketHistory  Bucket = "history"
)

// Buckets все вкладки в порядке отображения
var Buckets = []Bucket{BucketSent, BucketReceived, BucketOngoing, BucketHistory}

// ParseBucket разбирает название вкладки
func ParseBucket(s string) (Bucket, bool) {
	for _, b := range Buckets {
		if string(b) == strings.ToLower(s) {
			return b, true
		}
	}
	return "", false
}

// Predicate решает, попадает ли обмен во вкладку с точки зрения viewer
type Predicate func(t *models.Trade, viewer uuid.UUID) bool

// awaitingResponse: предложение ещё не согласовано и не закрыто отказом.
// Отклонённые и отменённые обмены не попадают ни в одну вкладку по умолчанию.
func awaitingResponse(s models.TradeStatus) bool {
	return s.IsNegotiable() || s == models.StatusExpired
}

// Predicate возвращает правило вкладки. Вкладки не пересекаются.
func (b Bucket) Predicate() Predicate {
	switch b {
	case BucketSent:
		return func(t *models.Trade, viewer uuid.UUID) bool {
			return t.BuyerID == viewer && awaitingResponse(t.Status)
		}
	case BucketReceived:
		return func(t *models.Trade, viewer uuid.UUID) bool {
			return t.SellerID == viewer && awaitingResponse(t.Status)
		}
	case BucketOngoing:
		return func(t *models.Trade, _ uuid.UUID) bool {
			return t.Status.IsInProgress()
		}
	case BucketHistory:
		return func(t *models.Trade, _ uuid.UUID) bool {
			return t.Status == models.StatusCompleted
		}
	}
	return func(*models.Trade, uuid.UUID) bool { return false }
}

// SortKey время, по которому сортируется вкладка
func (b Bucket) SortKey() func(t *models.Trade) time.Time {
	if b == BucketHistory {
		return func(t *models.Trade) time.Time {
			if t.CompletedAt != nil {
				return *t.CompletedAt
			}
			return t.UpdatedAt
		}
	}
	return func(t *models.Trade) time.Time { return t.CreatedAt }
}

// SortOrder порядок сортировки
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// ParseSortOrder разбирает порядок сортировки, по умолчанию newest
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(s, string(SortOldest)) {
		return SortOldest
	}
	return SortNewest
}

// Query параметры фильтрации вкладки
type Query struct {
	Search   string
	Statuses []models.TradeStatus
	Sort     SortOrder
}

// Categorize отбирает обмены по predicate, применяет поиск и фильтр по статусу,
// затем сортирует по sortKey. Одна функция для всех вкладок.
func Categorize(raw []models.Trade, viewer uuid.UUID, predicate Predicate, q Query, sortKey func(*models.Trade) time.Time) []models.Trade {
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]models.Trade, 0)
	for i := range raw {
		t := &raw[i]
		if !predicate(t, viewer) {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, t.Status) {
			continue
		}
		if needle != "" && !matches(t, viewer, needle) {
			continue
		}
		out = append(out, *t)
	}

	newest := q.Sort != SortOldest
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := sortKey(&out[i]), sortKey(&out[j])
		if ki.Equal(kj) {
			return out[i].ID.String() < out[j].ID.String()
		}
		if newest {
			return ki.After(kj)
		}
		return ki.Before(kj)
	})
	return out
}

// Bucketize применяет Categorize с правилом и сортировкой вкладки
func Bucketize(raw []models.Trade, viewer uuid.UUID, b Bucket, q Query) []models.Trade {
	return Categorize(raw, viewer, b.Predicate(), q, b.SortKey())
}

// Partition раскладывает обмены по всем вкладкам без фильтров
func Partition(raw []models.Trade, viewer uuid.UUID) map[Bucket][]models.Trade {
	out := make(map[Bucket][]models.Trade, len(Buckets))
	for _, b := range Buckets {
		out[b] = Bucketize(raw, viewer, b, Query{})
	}
	return out
}

// matches ищет подстроку в названиях товаров и имени второй стороны
func matches(t *models.Trade, viewer uuid.UUID, needle string) bool {
	fields := []string{t.TargetProductTitle}
	for _, it := range t.Items {
		fields = append(fields, it.Title)
	}
	if cp := t.Counterparty(viewer); cp != nil {
		fields = append(fields, cp.DisplayName(), cp.Username)
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func containsStatus(set []models.TradeStatus, s models.TradeStatus) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}
