package filestore_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/go-provider-session/session"
	"github.com/jrsteele09/go-provider-session/session/filestore"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testSession() *session.Session {
	return &session.Session{
		AppToken:   "A2",
		Credential: session.NewCredential("gho_secret_token", "bearer", []string{"repo"}),
		Principal:  session.Principal{ID: "1", Login: "u"},
	}
}

func TestParseSealKey(t *testing.T) {
	key, err := filestore.ParseSealKey(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, byte(0x1f), key[31])

	for _, bad := range []string{"", "zz", testKeyHex[:62], testKeyHex + "00"} {
		_, err := filestore.ParseSealKey(bad)
		require.ErrorIs(t, err, filestore.ErrInvalidSealKey)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		store, err := filestore.New(filepath.Join(t.TempDir(), "session.json"))
		require.NoError(t, err)

		_, err = store.Read(ctx)
		require.ErrorIs(t, err, session.ErrNoSession)
		require.NoError(t, store.Clear(ctx))
	})

	t.Run("plain round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "session.json")
		store, err := filestore.New(path)
		require.NoError(t, err)

		require.NoError(t, store.Write(ctx, testSession()))
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		got, err := store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, "A2", got.AppToken)
		require.Equal(t, "gho_secret_token", got.Credential.ProviderToken)

		require.NoError(t, store.Clear(ctx))
		_, err = store.Read(ctx)
		require.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("overwrite leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		store, err := filestore.New(filepath.Join(dir, "session.json"))
		require.NoError(t, err)

		require.NoError(t, store.Write(ctx, testSession()))
		next := testSession()
		next.AppToken = "A3"
		require.NoError(t, store.Write(ctx, next))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		got, err := store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, "A3", got.AppToken)
	})

	t.Run("sealed", func(t *testing.T) {
		key, err := filestore.ParseSealKey(testKeyHex)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "session.json")
		store, err := filestore.New(path, filestore.WithSealKey(key))
		require.NoError(t, err)

		require.NoError(t, store.Write(ctx, testSession()))
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.False(t, bytes.Contains(raw, []byte("gho_secret_token")))

		got, err := store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, "gho_secret_token", got.Credential.ProviderToken)

		other, err := filestore.ParseSealKey(strings.Repeat("ff", 32))
		require.NoError(t, err)
		wrongKey, err := filestore.New(path, filestore.WithSealKey(other))
		require.NoError(t, err)
		_, err = wrongKey.Read(ctx)
		require.ErrorIs(t, err, filestore.ErrUnsealFailed)
	})

	t.Run("nil session", func(t *testing.T) {
		store, err := filestore.New(filepath.Join(t.TempDir(), "session.json"))
		require.NoError(t, err)
		require.ErrorIs(t, store.Write(ctx, nil), session.ErrNilSession)
	})

	t.Run("path is required", func(t *testing.T) {
		_, err := filestore.New("")
		require.Error(t, err)
	})
}
