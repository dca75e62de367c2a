package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/rajivgeraev/flippy-offers/internal/db"
	"github.com/rajivgeraev/flippy-offers/internal/utils"
)

// Срок действия initData
const initDataExpiration = 24 * time.Hour

// UserStore пользователи, входящие через Telegram
type UserStore interface {
	CreateOrUpdateTelegramUser(ctx context.Context, tg db.TelegramUser) (*db.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*db.User, error)
}

// AuthService – структура для обработки авторизации
type AuthService struct {
	botToken   string
	users      UserStore
	jwtService *utils.JWTService
	logger     *slog.Logger
}

// NewAuthService – конструктор AuthService
func NewAuthService(botToken string, users UserStore, jwtService *utils.JWTService, logger *slog.Logger) *AuthService {
	return &AuthService{
		botToken:   botToken,
		users:      users,
		jwtService: jwtService,
		logger:     logger.With("component", "auth"),
	}
}

// GetJWTService возвращает сервис токенов для middleware
func (s *AuthService) GetJWTService() *utils.JWTService {
	return s.jwtService
}

// TelegramAuthHandler проверяет initData, создает JWT и возвращает его
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Проверяем initData
	if err := initdata.Validate(payload.InitData, s.botToken, initDataExpiration); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	raw, _ := json.Marshal(data.User)

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.users.CreateOrUpdateTelegramUser(ctx, db.TelegramUser{
		TelegramID:   data.User.ID,
		Username:     data.User.Username,
		FirstName:    data.User.FirstName,
		LastName:     data.User.LastName,
		PhotoURL:     data.User.PhotoURL,
		IsPremium:    data.User.IsPremium,
		LanguageCode: data.User.LanguageCode,
		RawData:      raw,
	})
	if err != nil {
		s.logger.Error("telegram user upsert failed", "telegram_id", data.User.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save user"})
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  userJSON(user),
	})
}

// Profile возвращает текущего пользователя
func (s *AuthService) Profile(c fiber.Ctx) error {
	userID, err := uuid.Parse(c.Locals("userID").(string))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
	}
	return c.JSON(fiber.Map{
		"user":      userJSON(user),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func userJSON(u *db.User) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"username":   u.Username,
		"photo_url":  u.AvatarURL,
	}
}
