// Package gateway ходит в REST API flippy за обменами и товарами.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/client"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/media"
	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
)

// APIError ответ API с кодом, который не сводится к ошибкам обмена
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Client реализует операции над обменами через REST API
type Client struct {
	http         *client.Client
	baseURL      string
	serviceToken string
	timeout      time.Duration
	thumbnailer  *media.Thumbnailer
	logger       *slog.Logger
}

// NewClient создает клиента API. serviceToken используется для запросов
// каталога, которые не привязаны к пользователю.
func NewClient(baseURL, serviceToken string, timeout time.Duration, thumbnailer *media.Thumbnailer, logger *slog.Logger) *Client {
	return &Client{
		http:         client.New(),
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		timeout:      timeout,
		thumbnailer:  thumbnailer,
		logger:       logger.With("component", "gateway"),
	}
}

type tradesResponse struct {
	Trades []models.Trade `json:"trades"`
	Count  int            `json:"count"`
}

type tradeResponse struct {
	Trade models.Trade `json:"trade"`
}

type listingResponse struct {
	Listing models.Listing `json:"listing"`
}

type actionRequest struct {
	Action models.Action `json:"action"`
	models.ActionPayload
}

type errorResponse struct {
	Error  string             `json:"error"`
	Status models.TradeStatus `json:"status,omitempty"`
}

// ListTrades возвращает обмены пользователя как покупателя (outgoing) или продавца (incoming)
func (c *Client) ListTrades(ctx context.Context, viewer models.Viewer, dir models.Direction) ([]models.Trade, error) {
	op := "list " + string(dir) + " trades"
	q := url.Values{}
	q.Set("type", string(dir))
	q.Set("status", "all")

	var out tradesResponse
	if err := c.do(ctx, fiber.MethodGet, "/api/trades?"+q.Encode(), viewer.Token, nil, &out, op, uuid.Nil); err != nil {
		return nil, err
	}
	for i := range out.Trades {
		out.Trades[i].NormalizeMeetup()
	}
	return out.Trades, nil
}

// ApplyAction отправляет действие над обменом и возвращает обновлённый обмен
func (c *Client) ApplyAction(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID, action models.Action, payload models.ActionPayload) (models.Trade, error) {
	body := actionRequest{Action: action, ActionPayload: payload}
	var out tradeResponse
	path := "/api/trades/" + tradeID.String() + "/status"
	if err := c.do(ctx, fiber.MethodPut, path, viewer.Token, body, &out, string(action)+" trade", tradeID); err != nil {
		return models.Trade{}, err
	}
	out.Trade.NormalizeMeetup()
	return out.Trade, nil
}

// ConfirmMeetup подтверждает встречу от имени пользователя
func (c *Client) ConfirmMeetup(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID) (models.Trade, error) {
	var out tradeResponse
	path := "/api/trades/" + tradeID.String() + "/meetup"
	if err := c.do(ctx, fiber.MethodPost, path, viewer.Token, struct{}{}, &out, "confirm meetup", tradeID); err != nil {
		return models.Trade{}, err
	}
	out.Trade.NormalizeMeetup()
	return out.Trade, nil
}

// LookupProduct загружает объявление и сводит его к карточке товара
func (c *Client) LookupProduct(ctx context.Context, productID uuid.UUID) (models.Product, error) {
	var out listingResponse
	if err := c.do(ctx, fiber.MethodGet, "/api/listings/"+productID.String(), c.serviceToken, nil, &out, "lookup product", uuid.Nil); err != nil {
		return models.Product{}, err
	}
	p := c.thumbnailer.Product(out.Listing)
	p.ID = productID
	return p, nil
}

// do выполняет запрос и переводит ответ в ошибки обмена: сетевые сбои и 5xx
// становятся TransientFetchError, 409/400/404 по обмену становятся StaleStateError
func (c *Client) do(ctx context.Context, method, path, token string, body, out any, op string, tradeID uuid.UUID) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := c.http.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.SetJSON(body)
	}

	target := c.baseURL + path
	var (
		resp *client.Response
		err  error
	)
	switch method {
	case fiber.MethodGet:
		resp, err = req.Get(target)
	case fiber.MethodPost:
		resp, err = req.Post(target)
	case fiber.MethodPut:
		resp, err = req.Put(target)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		c.logger.Warn("upstream request failed", "op", op, "error", err)
		return &trade.TransientFetchError{Op: op, Err: err}
	}
	defer resp.Close()

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(resp.Body(), &apiErr)
	if apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(resp.Body()))
	}
	cause := &APIError{Status: status, Message: apiErr.Error}

	switch {
	case status >= 500:
		return &trade.TransientFetchError{Op: op, Err: cause}
	case tradeID != uuid.Nil && (status == fiber.StatusConflict || status == fiber.StatusBadRequest || status == fiber.StatusNotFound):
		return &trade.StaleStateError{TradeID: tradeID, Remote: apiErr.Status, Err: cause}
	default:
		return cause
	}
}
