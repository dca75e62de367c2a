package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/flippy-offers/internal/media"
	"github.com/rajivgeraev/flippy-offers/internal/models"
	"github.com/rajivgeraev/flippy-offers/internal/trade"
)

// TradeStore читает и меняет обмены напрямую в базе flippy.
// Переходы проверяются тем же Engine, что и на клиенте, под блокировкой строки.
type TradeStore struct {
	db          *DB
	engine      *trade.Engine
	thumbnailer *media.Thumbnailer
	now         func() time.Time
}

// NewTradeStore создает новый экземпляр TradeStore
func NewTradeStore(db *DB, engine *trade.Engine, thumbnailer *media.Thumbnailer) *TradeStore {
	return &TradeStore{db: db, engine: engine, thumbnailer: thumbnailer, now: time.Now}
}

const tradeColumns = `
	t.id, t.buyer_id, t.seller_id, t.target_product_id, t.status, t.trade_option,
	t.cash_amount::text, t.message, t.decline_feedback,
	t.buyer_meetup_confirmed, t.seller_meetup_confirmed,
	t.created_at, t.updated_at, t.completed_at,
	COALESCE(tl.title, ''),
	COALESCE(b.username, ''), COALESCE(b.first_name, ''), COALESCE(b.last_name, ''), COALESCE(b.avatar_url, ''),
	COALESCE(s.username, ''), COALESCE(s.first_name, ''), COALESCE(s.last_name, ''), COALESCE(s.avatar_url, '')
`

const tradeFrom = `
	FROM trades t
	LEFT JOIN listings tl ON tl.id = t.target_product_id
	LEFT JOIN users b ON b.id = t.buyer_id
	LEFT JOIN users s ON s.id = t.seller_id
`

// ListTrades возвращает входящие или исходящие обмены пользователя
func (s *TradeStore) ListTrades(ctx context.Context, viewer models.Viewer, dir models.Direction) ([]models.Trade, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	column := "t.buyer_id"
	if dir == models.DirectionIncoming {
		column = "t.seller_id"
	}

	rows, err := s.db.Pool.Query(ctx, `SELECT `+tradeColumns+tradeFrom+`
		WHERE `+column+` = $1
		ORDER BY t.created_at DESC
	`, viewer.ID)
	if err != nil {
		return nil, &trade.TransientFetchError{Op: "list trades", Err: err}
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования обмена: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &trade.TransientFetchError{Op: "list trades", Err: err}
	}

	if err := s.loadItems(ctx, s.db.Pool, trades); err != nil {
		return nil, &trade.TransientFetchError{Op: "list trade items", Err: err}
	}
	return trades, nil
}

// ApplyAction выполняет действие в транзакции. Недопустимый по текущей
// строке переход возвращается как StaleStateError со статусом из базы.
func (s *TradeStore) ApplyAction(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID, action models.Action, payload models.ActionPayload) (models.Trade, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return models.Trade{}, &trade.TransientFetchError{Op: string(action), Err: err}
	}
	defer tx.Rollback(ctx)

	cur, err := scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+tradeFrom+`
		WHERE t.id = $1
		FOR UPDATE OF t
	`, tradeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Trade{}, &trade.StaleStateError{TradeID: tradeID, Err: err}
	}
	if err != nil {
		return models.Trade{}, &trade.TransientFetchError{Op: string(action), Err: err}
	}
	list := []models.Trade{cur}
	if err := s.loadItems(ctx, tx, list); err != nil {
		return models.Trade{}, &trade.TransientFetchError{Op: string(action), Err: err}
	}
	cur = list[0]

	next, err := s.engine.Apply(cur, viewer.ID, action, payload, s.now())
	if err != nil {
		return models.Trade{}, &trade.StaleStateError{TradeID: tradeID, Remote: cur.Status, Err: err}
	}

	var cash *string
	if next.CashAmount != nil {
		v := next.CashAmount.String()
		cash = &v
	}
	_, err = tx.Exec(ctx, `
		UPDATE trades
		SET status = $2, cash_amount = $3::numeric, decline_feedback = $4,
			buyer_meetup_confirmed = $5, seller_meetup_confirmed = $6,
			updated_at = $7, completed_at = $8
		WHERE id = $1
	`, next.ID, next.Status, cash, next.DeclineFeedback,
		next.BuyerMeetupConfirmed, next.SellerMeetupConfirmed,
		next.UpdatedAt, next.CompletedAt)
	if err != nil {
		return models.Trade{}, fmt.Errorf("ошибка обновления обмена: %w", err)
	}

	if action == models.ActionCounter {
		if err := replaceItems(ctx, tx, next.ID, next.Items); err != nil {
			return models.Trade{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Trade{}, &trade.TransientFetchError{Op: string(action), Err: err}
	}
	s.db.logger.Info("trade updated", "trade_id", tradeID, "action", action, "status", next.Status)
	next.NormalizeMeetup()
	return next, nil
}

// ConfirmMeetup подтверждает встречу от имени пользователя
func (s *TradeStore) ConfirmMeetup(ctx context.Context, viewer models.Viewer, tradeID uuid.UUID) (models.Trade, error) {
	return s.ApplyAction(ctx, viewer, tradeID, models.ActionConfirmMeetup, models.ActionPayload{})
}

// LookupProduct возвращает название и главное изображение объявления
func (s *TradeStore) LookupProduct(ctx context.Context, productID uuid.UUID) (models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	listing := models.Listing{ID: productID}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT user_id, title, status FROM listings WHERE id = $1
	`, productID).Scan(&listing.UserID, &listing.Title, &listing.Status)
	if err != nil {
		return models.Product{}, fmt.Errorf("ошибка запроса объявления %s: %w", productID, err)
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT url, COALESCE(preview_url, ''), COALESCE(public_id, ''), is_main
		FROM listing_images
		WHERE listing_id = $1
		ORDER BY position
	`, productID)
	if err != nil {
		return models.Product{}, fmt.Errorf("ошибка запроса изображений: %w", err)
	}
	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ListingImage, error) {
		var img models.ListingImage
		err := row.Scan(&img.URL, &img.PreviewURL, &img.PublicID, &img.IsMain)
		return img, err
	})
	if err != nil {
		return models.Product{}, fmt.Errorf("ошибка сканирования изображений: %w", err)
	}
	listing.Images = images

	return s.thumbnailer.Product(listing), nil
}

// querier общий интерфейс пула и транзакции
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadItems дописывает наборы товаров к обменам одним запросом
func (s *TradeStore) loadItems(ctx context.Context, q querier, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(trades))
	index := make(map[uuid.UUID]int, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
		index[t.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT ti.trade_id, ti.product_id, ti.offered_by, COALESCE(l.title, '')
		FROM trade_items ti
		LEFT JOIN listings l ON l.id = ti.product_id
		WHERE ti.trade_id = ANY($1)
		ORDER BY ti.trade_id, ti.position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tradeID uuid.UUID
			item    models.TradeItem
		)
		if err := rows.Scan(&tradeID, &item.ProductID, &item.OfferedBy, &item.Title); err != nil {
			return err
		}
		if i, ok := index[tradeID]; ok {
			trades[i].Items = append(trades[i].Items, item)
		}
	}
	return rows.Err()
}

func replaceItems(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID, items []models.TradeItem) error {
	if _, err := tx.Exec(ctx, `DELETE FROM trade_items WHERE trade_id = $1`, tradeID); err != nil {
		return fmt.Errorf("ошибка удаления набора: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range items {
		batch.Queue(`
			INSERT INTO trade_items (trade_id, product_id, offered_by, position)
			VALUES ($1, $2, $3, $4)
		`, tradeID, item.ProductID, item.OfferedBy, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ошибка записи набора: %w", err)
	}
	return nil
}

func scanTrade(row pgx.Row) (models.Trade, error) {
	var (
		t      models.Trade
		cash   *string
		buyer  models.User
		seller models.User
	)
	err := row.Scan(
		&t.ID, &t.BuyerID, &t.SellerID, &t.TargetProductID, &t.Status, &t.TradeOption,
		&cash, &t.Message, &t.DeclineFeedback,
		&t.BuyerMeetupConfirmed, &t.SellerMeetupConfirmed,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		&t.TargetProductTitle,
		&buyer.Username, &buyer.FirstName, &buyer.LastName, &buyer.AvatarURL,
		&seller.Username, &seller.FirstName, &seller.LastName, &seller.AvatarURL,
	)
	if err != nil {
		return models.Trade{}, err
	}

	if cash != nil {
		amount, err := decimal.NewFromString(*cash)
		if err != nil {
			return models.Trade{}, fmt.Errorf("cash_amount %q: %w", *cash, err)
		}
		t.CashAmount = &amount
	}
	t.NormalizeMeetup()
	buyer.ID, seller.ID = t.BuyerID, t.SellerID
	t.Buyer, t.Seller = &buyer, &seller
	t.Items = []models.TradeItem{}
	return t, nil
}
