package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/signflow/internal/core/ports"
)

// TestStoreIntegration requires a running Redis and skips otherwise.
func TestStoreIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	store := New(addr, "", 0)
	defer store.Close()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test-" + uuid.NewString()
	_, ok, err := store.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	first := ports.IdempotentResponse{RequestHash: "h1", StatusCode: 201, Body: []byte(`{"ok":true}`)}
	require.NoError(t, store.Remember(ctx, key, first, time.Minute))
	require.NoError(t, store.Remember(ctx, key, ports.IdempotentResponse{RequestHash: "h2", StatusCode: 500}, time.Minute))

	got, ok, err := store.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, *got)
}
