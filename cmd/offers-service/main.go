package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/flippy-offers/internal/bundle"
	"github.com/rajivgeraev/flippy-offers/internal/cache/redis"
	"github.com/rajivgeraev/flippy-offers/internal/config"
	"github.com/rajivgeraev/flippy-offers/internal/db"
	"github.com/rajivgeraev/flippy-offers/internal/gateway"
	"github.com/rajivgeraev/flippy-offers/internal/logger"
	"github.com/rajivgeraev/flippy-offers/internal/media"
	"github.com/rajivgeraev/flippy-offers/internal/services/auth"
	"github.com/rajivgeraev/flippy-offers/internal/services/offers"
	"github.com/rajivgeraev/flippy-offers/internal/session"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
	"github.com/rajivgeraev/flippy-offers/internal/utils"
	"github.com/rajivgeraev/flippy-offers/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewDefault("development", "").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.AppEnv, cfg.LogFormat)
	log.Info("starting offers service", "env", cfg.AppEnv, "backend", cfg.TradesBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("offers service stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	thumbnailer, err := media.NewThumbnailer(cfg.CloudinaryConfig)
	if err != nil {
		return err
	}

	engine := trade.NewEngine(cfg.OfferExpiry)

	// База нужна прямому доступу к обменам и входу через Telegram
	var database *db.DB
	if cfg.TradesBackend == config.BackendPostgres || cfg.TelegramBotToken != "" {
		database, err = db.Connect(ctx, cfg.DatabaseURL, log.Logger)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	var (
		gw     session.Gateway
		lookup bundle.ProductLookup
	)
	switch cfg.TradesBackend {
	case config.BackendPostgres:
		store := db.NewTradeStore(database, engine, thumbnailer)
		gw, lookup = store, store
	default:
		client := gateway.NewClient(cfg.UpstreamAPIURL, cfg.UpstreamServiceToken, cfg.RequestTimeout, thumbnailer, log.Logger)
		gw, lookup = client, client
	}

	// Общий кэш товаров в Redis
	var productCache *redis.ProductCache
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unavailable, product cache falls back to source")
		}
		productCache = redis.NewProductCache(rdb, lookup, cfg.ProductCacheTTL, log.Logger)
		lookup = productCache
	}

	hub := websocket.NewManager(log.Logger)
	defer hub.Shutdown()

	if cfg.UpstreamWSURL != "" {
		feed := websocket.NewClient(cfg.UpstreamWSURL, cfg.UpstreamServiceToken, hub, log.Logger)
		if productCache != nil {
			feed.OnEvent(func(ev websocket.Event) {
				if ev.Type != websocket.EventProductUpdated {
					return
				}
				productID, err := uuid.Parse(ev.ProductID)
				if err != nil {
					return
				}
				if err := productCache.Invalidate(ctx, productID); err != nil {
					log.WithError(err).Warn("product cache invalidation failed", "product_id", ev.ProductID)
				}
			})
		}
		go feed.Run(ctx)
	}

	sessions := session.NewManager(gw, lookup, engine, hub, session.Options{
		PageSize:     cfg.PageSize,
		PollInterval: cfg.PollInterval,
	}, cfg.SessionIdleTTL, log.Logger)
	defer sessions.Shutdown()
	go sessions.Run(ctx)

	jwtService := utils.NewJWTService(cfg.JWTSecret)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Flippy Offers",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": sessions.Len()})
	})

	// Регистрируем маршруты
	if database != nil && cfg.TelegramBotToken != "" {
		auth.NewAuthService(cfg.TelegramBotToken, database, jwtService, log.Logger).SetupRoutes(app)
	} else {
		log.Warn("telegram auth disabled: TELEGRAM_BOT_TOKEN not set")
	}
	offers.NewOffersService(sessions, jwtService, cfg.RequestTimeout, log.Logger).SetupRoutes(app)

	errCh := make(chan error, 1)
	go func() {
		log.Info("offers service listening", "port", cfg.Port)
		errCh <- app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: cfg.IsProduction()})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
