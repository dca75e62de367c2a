package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Способы доступа к обменам
const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// Config структура конфигурации
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	AppEnv    string `env:"APP_ENV" envDefault:"production"`
	LogFormat string `env:"LOG_FORMAT"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	JWTSecret        string `env:"JWT_SECRET,required,notEmpty"`

	// TradesBackend: http (REST API flippy) или postgres (прямой доступ к базе)
	TradesBackend  string `env:"TRADES_BACKEND" envDefault:"http"`
	UpstreamAPIURL string `env:"UPSTREAM_API_URL" envDefault:"http://localhost:8081"`
	UpstreamWSURL  string `env:"UPSTREAM_WS_URL"`

	// UpstreamServiceToken токен сервиса для запросов каталога, общих для всех сессий
	UpstreamServiceToken string `env:"UPSTREAM_SERVICE_TOKEN"`

	DatabaseURL    string         `env:"DATABASE_URL"`
	DatabaseConfig DatabaseConfig `envPrefix:"PG"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	ProductCacheTTL time.Duration `env:"PRODUCT_CACHE_TTL" envDefault:"6h"`

	CloudinaryConfig CloudinaryConfig `envPrefix:"CLOUDINARY_"`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	PageSize       int           `env:"PAGE_SIZE" envDefault:"10"`
	OfferExpiry    time.Duration `env:"OFFER_EXPIRY" envDefault:"0s"`
	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"flippy_user"`
	Password string `env:"PASSWORD" envDefault:"flippy_pass"`
	Name     string `env:"DATABASE" envDefault:"flippy"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// URL строка подключения к базе данных
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName string `env:"CLOUD_NAME"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
}

// LoadConfig загружает переменные из .env и окружения
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}
	return Parse()
}

// Parse читает конфигурацию только из окружения
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}

	// Формируем строку подключения из PG* переменных, если DATABASE_URL не задан
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.DatabaseConfig.URL()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.TradesBackend {
	case BackendHTTP:
		if c.UpstreamAPIURL == "" {
			return errors.New("UPSTREAM_API_URL обязателен для TRADES_BACKEND=http")
		}
	case BackendPostgres:
	default:
		return fmt.Errorf("неизвестный TRADES_BACKEND: %q", c.TradesBackend)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE должен быть положительным, получено %d", c.PageSize)
	}
	return nil
}

// IsProduction сообщает, что приложение запущено в production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
