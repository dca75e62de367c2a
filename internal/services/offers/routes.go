package offers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-offers/internal/middleware"
)

// SetupRoutes настраивает маршруты раздела "Мои обмены"
func (s *OffersService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/offers")

	// Все маршруты требуют авторизации
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Get("/", s.GetOffers)
	api.Get("/counts", s.GetCounts)
	api.Get("/raw", s.GetRaw)
	api.Post("/refresh", s.Refresh)

	api.Get("/:id", s.GetTrade)
	api.Post("/:id/actions", s.ApplyAction)
	api.Post("/:id/meetup", s.ConfirmMeetup)
}
