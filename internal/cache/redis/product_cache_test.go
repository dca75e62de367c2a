package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

type countingLookup struct {
	calls int
	err   error
}

func (l *countingLookup) LookupProduct(_ context.Context, id uuid.UUID) (models.Product, error) {
	l.calls++
	if l.err != nil {
		return models.Product{}, l.err
	}
	return models.Product{ID: id, Title: "Lamp", ImageURL: "https://img/lamp.jpg"}, nil
}

// setupTestClient подключается к тестовой базе Redis (DB 15)
func setupTestClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping test: Redis not available")
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestProductCache_ReadThrough(t *testing.T) {
	client := setupTestClient(t)
	next := &countingLookup{}
	c := NewProductCache(client, next, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	id := uuid.New()

	t.Run("Miss_Loads_From_Source", func(t *testing.T) {
		p, err := c.LookupProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Lamp", p.Title)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("Hit_Skips_Source", func(t *testing.T) {
		p, err := c.LookupProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://img/lamp.jpg", p.ImageURL)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, c.Invalidate(ctx, id))
		_, found, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestProductCache_SourceErrorNotCached(t *testing.T) {
	client := setupTestClient(t)
	next := &countingLookup{err: errors.New("boom")}
	c := NewProductCache(client, next, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	id := uuid.New()

	_, err := c.LookupProduct(ctx, id)
	require.Error(t, err)

	_, found, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProductCache_RedisDownFallsBackToSource(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	next := &countingLookup{}
	c := NewProductCache(client, next, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p, err := c.LookupProduct(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Title)
	assert.Equal(t, 1, next.calls)
}
