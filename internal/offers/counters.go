package offers

import (
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

// Counts счётчики для бейджей. Считаются по полному списку обменов,
// без учёта поиска, фильтров и страниц.
type Counts struct {
	SentPending     int `json:"sent_pending"`
	ReceivedPending int `json:"received_pending"`
	Ongoing         int `json:"ongoing"`
	Completed       int `json:"completed"`
}

// Count пересчитывает счётчики с нуля
func Count(raw []models.Trade, viewer uuid.UUID) Counts {
	var c Counts
	for i := range raw {
		t := &raw[i]
		switch {
		case t.Status == models.StatusPending && t.BuyerID == viewer:
			c.SentPending++
		case t.Status == models.StatusPending && t.SellerID == viewer:
			c.ReceivedPending++
		case t.Status.IsInProgress():
			c.Ongoing++
		case t.Status == models.StatusCompleted:
			c.Completed++
		}
	}
	return c
}
