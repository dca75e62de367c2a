package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// User представляет пользователя в системе
type User struct {
	ID          uuid.UUID
	Username    string
	FirstName   string
	LastName    string
	AvatarURL   string
	CreatedAt   time.Time
	LastLoginAt time.Time
	IsActive    bool
}

// TelegramUser данные пользователя из Telegram initData
type TelegramUser struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	PhotoURL     string
	IsPremium    bool
	LanguageCode string
	RawData      []byte // JSONB данные
}

// CreateOrUpdateTelegramUser создает нового пользователя через Telegram или
// обновляет данные и время входа существующего
func (d *DB) CreateOrUpdateTelegramUser(ctx context.Context, tg TelegramUser) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx) // Откатываем транзакцию в случае ошибки

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, tg.TelegramID).Scan(&userID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			RETURNING id
		`, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL).Scan(&userID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, userID, tg.TelegramID, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData)
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
		d.logger.Info("telegram user created", "user_id", userID, "telegram_id", tg.TelegramID)

	case err != nil:
		return nil, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)

	default:
		// Обновляем время входа и профиль Telegram
		_, err = tx.Exec(ctx, `
			UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1
		`, userID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении времени входа пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE telegram_users
			SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
				is_premium = $5, language_code = $6, raw_data = $7, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = $8
		`, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData, tg.TelegramID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRow(ctx, userQuery, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return user, nil
}

// GetUserByID получает пользователя по ID
func (d *DB) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return scanUser(d.Pool.QueryRow(ctx, userQuery, userID))
}

// GetUserByTelegramID получает пользователя по ID Telegram
func (d *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var userID uuid.UUID
	err := d.Pool.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)
	if err != nil {
		return nil, err
	}
	return scanUser(d.Pool.QueryRow(ctx, userQuery, userID))
}

const userQuery = `
	SELECT id, username, first_name, last_name, avatar_url, created_at, last_login_at, is_active
	FROM users WHERE id = $1
`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var username, firstName, lastName, avatarURL pgtype.Text

	err := row.Scan(
		&user.ID, &username, &firstName, &lastName, &avatarURL,
		&user.CreatedAt, &user.LastLoginAt, &user.IsActive,
	)
	if err != nil {
		return nil, err
	}

	// Преобразуем nullable поля
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String
	return &user, nil
}
