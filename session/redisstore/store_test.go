package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/jrsteele09/go-provider-session/session/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *redisstore.Store
}

func setupTestFixture(t *testing.T, options ...redisstore.Option) *testFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.New(client, "provider-session", options...)
	require.NoError(t, err)

	return &testFixture{mr: mr, client: client, store: store}
}

func testSession() *session.Session {
	return &session.Session{
		AppToken:   "A2",
		AccountID:  "5c9d1b",
		Credential: session.NewCredential("T", "bearer", []string{"repo", "notifications"}),
		Principal: session.Principal{
			ID:        "1",
			Login:     "u",
			Name:      "User One",
			CreatedAt: time.Date(2011, 1, 25, 18, 44, 36, 0, time.UTC),
		},
		LastLoginAt: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	_, err := redisstore.New(nil, "p")
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	_, err = redisstore.New(client, "")
	require.Error(t, err)
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.store.Read(ctx)
		require.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("write then read", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.Write(ctx, testSession()))
		require.Equal(t, "provider-session:session", f.store.Key())
		require.True(t, f.mr.Exists(f.store.Key()))

		got, err := f.store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, "A2", got.AppToken)
		require.Equal(t, "T", got.Credential.ProviderToken)
		require.Equal(t, []string{"repo", "notifications"}, got.Credential.Scope)
		require.Equal(t, session.PrincipalID("1"), got.Principal.ID)
		require.True(t, testSession().LastLoginAt.Equal(got.LastLoginAt))
		require.Equal(t, time.Duration(0), f.mr.TTL(f.store.Key()))
	})

	t.Run("nil session", func(t *testing.T) {
		f := setupTestFixture(t)
		require.ErrorIs(t, f.store.Write(ctx, nil), session.ErrNilSession)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.Write(ctx, testSession()))
		require.NoError(t, f.store.Clear(ctx))
		require.NoError(t, f.store.Clear(ctx))

		_, err := f.store.Read(ctx)
		require.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("ttl", func(t *testing.T) {
		f := setupTestFixture(t, redisstore.WithTTL(time.Hour))
		require.NoError(t, f.store.Write(ctx, testSession()))
		require.Equal(t, time.Hour, f.mr.TTL(f.store.Key()))

		f.mr.FastForward(2 * time.Hour)
		_, err := f.store.Read(ctx)
		require.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("corrupt value", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.mr.Set(f.store.Key(), "{not json"))
		_, err := f.store.Read(ctx)
		require.Error(t, err)
		require.NotErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("server down", func(t *testing.T) {
		f := setupTestFixture(t)
		f.mr.Close()
		_, err := f.store.Read(ctx)
		require.Error(t, err)
		require.NotErrorIs(t, err, session.ErrNoSession)
	})
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := redisstore.Connect(ctx, redisstore.ConnectConfig{
			URL:            "redis://" + mr.Addr() + "/0",
			ConnectTimeout: time.Second,
			RetryAttempts:  3,
			RetryInterval:  10 * time.Millisecond,
		})
		require.NoError(t, err)
		defer client.Close()
		require.NoError(t, client.Ping(ctx).Err())
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := redisstore.Connect(ctx, redisstore.ConnectConfig{URL: "http://nope"})
		require.ErrorIs(t, err, redisstore.ErrInvalidURL)
	})

	t.Run("not ready", func(t *testing.T) {
		_, err := redisstore.Connect(ctx, redisstore.ConnectConfig{
			URL:           "redis://127.0.0.1:1/0",
			RetryAttempts: 2,
			RetryInterval: 5 * time.Millisecond,
		})
		require.ErrorIs(t, err, redisstore.ErrNotReady)
	})
}
