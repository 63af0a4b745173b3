package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/slackbridge/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s, err := New(Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSetAndGet(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Set(ctx, "U123", []byte(`{"id":"U123"}`), storage.WithNamespace("users")))

	item, err := s.Get(ctx, "U123", storage.WithNamespace("users"))
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, `{"id":"U123"}`, string(item.Data))
	assert.Nil(t, item.ExpiresAt)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"users:U123"), "key should carry prefix and namespace")
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStorage(t)
	item, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestTTL(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), storage.WithTTL(30*time.Second)))
	assert.Equal(t, 30*time.Second, mr.TTL(DefaultKeyPrefix+"global:k"))

	mr.FastForward(31 * time.Second)

	item, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	item, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestCorruptPayload(t *testing.T) {
	s, mr := newTestStorage(t)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"global:bad", "not-json"))

	_, err := s.Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestBackendFailure(t *testing.T) {
	s, mr := newTestStorage(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}
