package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-offers/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Защищенные маршруты
	app.Get("/api/profile", middleware.AuthMiddleware(s.jwtService), s.Profile)
}
