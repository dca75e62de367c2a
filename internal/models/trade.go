package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus статус предложения обмена
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusCountered TradeStatus = "countered"
	StatusAccepted  TradeStatus = "accepted"
	StatusActive    TradeStatus = "active"
	StatusDeclined  TradeStatus = "declined"
	StatusCancelled TradeStatus = "cancelled"
	StatusExpired   TradeStatus = "expired"
	StatusCompleted TradeStatus = "completed"
)

// AllStatuses перечисляет все статусы в порядке жизненного цикла
var AllStatuses = []TradeStatus{
	StatusPending, StatusCountered, StatusAccepted, StatusActive,
	StatusDeclined, StatusCancelled, StatusExpired, StatusCompleted,
}

// IsTerminal сообщает, что из статуса нет переходов
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// IsNegotiable: предложение ещё можно принять, отклонить или изменить
func (s TradeStatus) IsNegotiable() bool {
	return s == StatusPending || s == StatusCountered
}

// IsInProgress: обмен согласован и ещё не завершён
func (s TradeStatus) IsInProgress() bool {
	return s == StatusAccepted || s == StatusActive
}

// Valid проверяет, что статус известен
func (s TradeStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// ParseStatuses разбирает список статусов через запятую ("pending,countered")
func ParseStatuses(raw string) ([]TradeStatus, bool) {
	if strings.TrimSpace(raw) == "" || raw == "all" {
		return nil, true
	}
	var out []TradeStatus
	for _, part := range strings.Split(raw, ",") {
		st := TradeStatus(strings.TrimSpace(strings.ToLower(part)))
		if !st.Valid() {
			return nil, false
		}
		out = append(out, st)
	}
	return out, true
}

// TradeOption способ передачи товаров
type TradeOption string

const (
	OptionMeetup   TradeOption = "meetup"
	OptionDelivery TradeOption = "delivery"
)

// Party сторона обмена
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// TradeItem товар из набора, предложенного в обмен
type TradeItem struct {
	ProductID uuid.UUID `json:"product_id"`
	OfferedBy Party     `json:"offered_by"`
	Title     string    `json:"product_title,omitempty"`
	ImageURL  string    `json:"product_image_url,omitempty"`
}

// Trade представляет предложение об обмене между покупателем (инициатором) и продавцом
type Trade struct {
	ID                    uuid.UUID        `json:"id"`
	BuyerID               uuid.UUID        `json:"buyer_id"`
	SellerID              uuid.UUID        `json:"seller_id"`
	TargetProductID       uuid.UUID        `json:"target_product_id"`
	TargetProductTitle    string           `json:"product_title,omitempty"`
	TargetProductImageURL string           `json:"product_image_url,omitempty"`
	Items                 []TradeItem      `json:"items"`
	CashAmount            *decimal.Decimal `json:"cash_amount,omitempty"`
	Status                TradeStatus      `json:"status"`
	TradeOption           TradeOption      `json:"trade_option"`
	BuyerMeetupConfirmed  bool             `json:"buyer_meetup_confirmed"`
	SellerMeetupConfirmed bool             `json:"seller_meetup_confirmed"`
	MeetupConfirmedFlag   bool             `json:"meetup_confirmed"`
	Message               string           `json:"message,omitempty"`
	DeclineFeedback       string           `json:"decline_feedback,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`

	// Дополнительные поля для API
	Buyer  *User `json:"buyer,omitempty"`
	Seller *User `json:"seller,omitempty"`
}

// MeetupConfirmed истинно, только если обе стороны подтвердили встречу
// (или сервер прислал объединённый флаг) и обмен в работе
func (t *Trade) MeetupConfirmed() bool {
	if !t.Status.IsInProgress() {
		return false
	}
	return t.MeetupConfirmedFlag || (t.BuyerMeetupConfirmed && t.SellerMeetupConfirmed)
}

// NormalizeMeetup приводит поле meetup_confirmed к MeetupConfirmed.
// Вызывается для каждого обмена, пришедшего из базы или от сервера.
func (t *Trade) NormalizeMeetup() {
	t.MeetupConfirmedFlag = t.MeetupConfirmed()
}

// PartyOf возвращает роль пользователя в обмене
func (t *Trade) PartyOf(userID uuid.UUID) (Party, bool) {
	switch userID {
	case t.BuyerID:
		return PartyBuyer, true
	case t.SellerID:
		return PartySeller, true
	}
	return "", false
}

// Counterparty возвращает вторую сторону обмена относительно viewer
func (t *Trade) Counterparty(viewer uuid.UUID) *User {
	if viewer == t.BuyerID {
		return t.Seller
	}
	return t.Buyer
}

// Clone возвращает копию без общих слайсов и указателей
func (t Trade) Clone() Trade {
	if t.Items != nil {
		items := make([]TradeItem, len(t.Items))
		copy(items, t.Items)
		t.Items = items
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	if t.CashAmount != nil {
		cash := *t.CashAmount
		t.CashAmount = &cash
	}
	return t
}

// ProductIDs возвращает id целевого товара и всех товаров набора
func (t *Trade) ProductIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t.Items)+1)
	ids = append(ids, t.TargetProductID)
	for _, it := range t.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// User представляет минимальную информацию о пользователе для API
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// DisplayName имя пользователя для карточки обмена
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// Direction направление списка обменов относительно текущего пользователя
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Action действие над обменом
type Action string

const (
	ActionAccept        Action = "accept"
	ActionDecline       Action = "decline"
	ActionCancel        Action = "cancel"
	ActionCounter       Action = "counter"
	ActionConfirmMeetup Action = "confirm_meetup"
	ActionComplete      Action = "complete"
	ActionExpire        Action = "expire"
)

// ActionPayload дополнительные данные действия
type ActionPayload struct {
	Feedback   string           `json:"feedback,omitempty"`
	Items      []TradeItem      `json:"items,omitempty"`
	CashAmount *decimal.Decimal `json:"cash_amount,omitempty"`
}
