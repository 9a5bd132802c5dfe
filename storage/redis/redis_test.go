package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ha_ocpp/storage"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	s, err := New(Config{Client: client, TTL: ttl})
	require.NoError(t, err)
	return s
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	rec, err := s.LoadTransaction(ctx, "CP1", 1)
	require.NoError(t, err)
	assert.Nil(t, rec)

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTransaction(ctx, "CP1", storage.TransactionRecord{
		TransactionID: 55,
		ConnectorID:   1,
		IDTag:         "ABC",
		MeterStart:    1000,
		StartedAt:     started,
	}))

	rec, err = s.LoadTransaction(ctx, "CP1", 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 55, rec.TransactionID)
	assert.Equal(t, "ABC", rec.IDTag)
	assert.True(t, started.Equal(rec.StartedAt))

	require.NoError(t, s.DeleteTransaction(ctx, "CP1", 1))
	rec, err = s.LoadTransaction(ctx, "CP1", 1)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStoreTTL(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.SaveTransaction(ctx, "CP1", storage.TransactionRecord{TransactionID: 1, ConnectorID: 1}))

	ttl, err := s.client.TTL(ctx, s.buildKey("CP1", 1)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
