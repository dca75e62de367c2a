package offers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/flippy-offers/internal/gateway"
	"github.com/rajivgeraev/flippy-offers/internal/middleware"
	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/offers"
	"github.com/rajivgeraev/flippy-offers/internal/session"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
	"github.com/rajivgeraev/flippy-offers/internal/utils"
)

// OffersService обслуживает раздел "Мои обмены"
type OffersService struct {
	sessions   *session.Manager
	jwtService *utils.JWTService
	timeout    time.Duration
	logger     *slog.Logger
}

// NewOffersService создает новый экземпляр OffersService
func NewOffersService(sessions *session.Manager, jwtService *utils.JWTService, timeout time.Duration, logger *slog.Logger) *OffersService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OffersService{
		sessions:   sessions,
		jwtService: jwtService,
		timeout:    timeout,
		logger:     logger.With("component", "offers_api"),
	}
}

// tradeCard обмен вместе с действиями, доступными текущему пользователю
type tradeCard struct {
	models.Trade
	AllowedActions []models.Action `json:"allowed_actions"`
}

type viewResponse struct {
	offers.View
	Trades []tradeCard `json:"trades"`
}

func (s *OffersService) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// loadSession возвращает загруженную сессию текущего пользователя
func (s *OffersService) loadSession(ctx context.Context, c fiber.Ctx) (*session.Session, error) {
	viewer, ok := middleware.ViewerFromContext(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Пользователь не авторизован")
	}
	sess, err := s.sessions.Get(viewer)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	// Ошибка первой загрузки не мешает ответу: её покажет признак stale
	if err := sess.WaitLoaded(ctx); err != nil && ctx.Err() != nil {
		return nil, fiber.NewError(fiber.StatusGatewayTimeout, "Список обменов ещё загружается")
	}
	return sess, nil
}

func (s *OffersService) cards(sess *session.Session, trades []models.Trade) []tradeCard {
	out := make([]tradeCard, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeCard{Trade: t, AllowedActions: sess.Allowed(t)})
	}
	return out
}

// GetOffers возвращает страницу вкладки
func (s *OffersService) GetOffers(c fiber.Ctx) error {
	bucket, ok := offers.ParseBucket(c.Query("bucket", string(offers.BucketSent)))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неизвестная вкладка"})
	}
	statuses, ok := models.ParseStatuses(c.Query("status"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неизвестный статус"})
	}
	page := 0
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный номер страницы"})
		}
		page = n
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}

	view := sess.View(bucket, offers.Query{
		Search:   c.Query("q"),
		Statuses: statuses,
		Sort:     offers.ParseSortOrder(c.Query("sort")),
	}, page)

	return c.JSON(viewResponse{View: view, Trades: s.cards(sess, view.Trades)})
}

// GetCounts возвращает счётчики для бейджей
func (s *OffersService) GetCounts(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"counts": sess.Counts(),
		"status": sess.Status(),
	})
}

// GetRaw возвращает полный список, включая отклонённые и отменённые обмены
func (s *OffersService) GetRaw(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}
	trades := sess.Raw()
	return c.JSON(fiber.Map{
		"trades": s.cards(sess, trades),
		"count":  len(trades),
		"status": sess.Status(),
	})
}

// Refresh перечитывает список с сервера
func (s *OffersService) Refresh(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}
	if err := sess.Refresh(ctx); err != nil {
		s.logger.Warn("manual refresh failed", "user_id", sess.UserID(), "error", err)
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"counts": sess.Counts(),
		"status": sess.Status(),
	})
}

// GetTrade возвращает один обмен, дождавшись названий товаров
func (s *OffersService) GetTrade(c fiber.Ctx) error {
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}
	t, ok := sess.Detail(ctx, tradeID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Обмен не найден"})
	}
	return c.JSON(fiber.Map{"trade": tradeCard{Trade: t, AllowedActions: sess.Allowed(t)}})
}

// ApplyAction выполняет действие над обменом
func (s *OffersService) ApplyAction(c fiber.Ctx) error {
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	var requestData struct {
		Action     string             `json:"action"`
		Feedback   string             `json:"feedback"`
		Items      []models.TradeItem `json:"items"`
		CashAmount *decimal.Decimal   `json:"cash_amount"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}
	if requestData.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Необходимо указать действие"})
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}

	updated, err := sess.Act(ctx, tradeID, models.Action(requestData.Action), models.ActionPayload{
		Feedback:   requestData.Feedback,
		Items:      requestData.Items,
		CashAmount: requestData.CashAmount,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"trade": tradeCard{Trade: updated, AllowedActions: sess.Allowed(updated)}})
}

// ConfirmMeetup подтверждает встречу
func (s *OffersService) ConfirmMeetup(c fiber.Ctx) error {
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	sess, err := s.loadSession(ctx, c)
	if err != nil {
		return err
	}

	updated, err := sess.ConfirmMeetup(ctx, tradeID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"trade": tradeCard{Trade: updated, AllowedActions: sess.Allowed(updated)}})
}

// writeError переводит ошибку домена в HTTP-ответ
func (s *OffersService) writeError(c fiber.Ctx, err error) error {
	var (
		invalid *trade.InvalidTransitionError
		apiErr  *gateway.APIError
	)
	switch {
	case errors.As(err, &invalid):
		status := fiber.StatusUnprocessableEntity
		if trade.NeedsRefresh(err) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error":                     err.Error(),
			"reason":                    invalid.Reason,
			"status":                    invalid.Status,
			"needs_refresh":             trade.NeedsRefresh(err),
			"needs_meetup_confirmation": trade.NeedsMeetupConfirmation(err),
		})
	case errors.Is(err, trade.ErrStaleState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":         err.Error(),
			"needs_refresh": true,
		})
	case errors.Is(err, trade.ErrTransientFetch):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     err.Error(),
			"retryable": true,
		})
	case errors.As(err, &apiErr):
		return c.Status(apiErr.Status).JSON(fiber.Map{"error": apiErr.Message})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": err.Error()})
	}
	s.logger.Error("unexpected offers error", "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Внутренняя ошибка"})
}
