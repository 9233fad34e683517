package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisInvalidator_DeletesOnlyProductListings(t *testing.T) {
	mr, client := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("ecommerce:1:products_list_page_%d", i), "[]"))
	}
	require.NoError(t, mr.Set("ecommerce:1:product_detail_5", "{}"))
	require.NoError(t, mr.Set("other:1:products_list_x", "[]"))

	inv := NewRedisInvalidator(client, "ecommerce", logger)
	require.NoError(t, inv.InvalidateProducts(context.Background()))

	keys := mr.Keys()
	assert.ElementsMatch(t, []string{"ecommerce:1:product_detail_5", "other:1:products_list_x"}, keys)
}

func TestRedisInvalidator_EmptyCache(t *testing.T) {
	_, client := setupRedis(t)
	inv := NewRedisInvalidator(client, "ecommerce", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NoError(t, inv.InvalidateProducts(context.Background()))
}

func TestRedisInvalidator_ServerDown(t *testing.T) {
	mr, client := setupRedis(t)
	inv := NewRedisInvalidator(client, "ecommerce", slog.New(slog.NewTextHandler(io.Discard, nil)))
	mr.Close()

	assert.Error(t, inv.InvalidateProducts(context.Background()))
}
