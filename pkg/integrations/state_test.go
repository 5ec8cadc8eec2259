package integrations

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	require.NoError(t, err)
	b, err := GenerateState()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestRedisStateStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStateStore(client, "")
	ctx := context.Background()
	pending := PendingAuthorization{
		OrganizationID: uuid.New(),
		UserID:         "user-1",
		ReturnURL:      "/settings",
		CreatedAt:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("single use", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s1", pending, time.Minute))
		assert.Equal(t, time.Minute, mr.TTL("oauth:state:s1"))

		got, err := store.Consume(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, pending, *got)

		_, err = store.Consume(ctx, "s1")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s2", pending, time.Minute))
		mr.FastForward(time.Minute)

		_, err := store.Consume(ctx, "s2")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := store.Consume(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})
}

func TestMemoryStateStore(t *testing.T) {
	store := NewMemoryStateStore(10, time.Hour)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	pending := PendingAuthorization{OrganizationID: uuid.New(), UserID: "user-1"}

	t.Run("single use", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s1", pending, time.Minute))

		got, err := store.Consume(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)

		_, err = store.Consume(ctx, "s1")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("expired state is removed and rejected", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s2", pending, time.Minute))
		now = now.Add(time.Minute)

		_, err := store.Consume(ctx, "s2")
		assert.ErrorIs(t, err, ErrStateNotFound)
		assert.Equal(t, 0, store.entries.Len())
	})
}
