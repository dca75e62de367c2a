package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/utils"
)

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Проверяем Bearer токен
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		tokenString := parts[1]
		userID, err := jwtService.ExtractUserID(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Проверяем, что userID является валидным UUID
		if _, err := uuid.Parse(userID); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid user ID",
			})
		}

		// Токен пробрасывается в API flippy от имени пользователя
		c.Locals("userID", userID)
		c.Locals("token", tokenString)

		return c.Next()
	}
}

// ViewerFromContext собирает Viewer из значений, сохранённых AuthMiddleware
func ViewerFromContext(c fiber.Ctx) (models.Viewer, bool) {
	userID, _ := c.Locals("userID").(string)
	token, _ := c.Locals("token").(string)
	id, err := uuid.Parse(userID)
	if err != nil {
		return models.Viewer{}, false
	}
	return models.Viewer{ID: id, Token: token}, true
}
