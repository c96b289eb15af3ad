package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/stretchr/testify/require"
)

const testSealingKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestFileStore_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "crm_token", "t-1"))
	require.NoError(t, s.Set(ctx, "crm_user", `{"id":"u-1"}`))
	require.NoError(t, s.Delete(ctx, "crm_user"))

	reopened, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "crm_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t-1", v)

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"crm_token"}, keys)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_Sealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := storage.OpenFileStore(path, storage.WithSealingKey(testSealingKey))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "crm_refresh_token", "very-secret"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "very-secret"))

	reopened, err := storage.OpenFileStore(path, storage.WithSealingKey(testSealingKey))
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "crm_refresh_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "very-secret", v)

	wrongKey := strings.Repeat("ff", 32)
	_, err = storage.OpenFileStore(path, storage.WithSealingKey(wrongKey))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ErrSealedData))
}

func TestFileStore_RejectsShortKey(t *testing.T) {
	_, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "s.json"), storage.WithSealingKey("abcd"))
	require.Error(t, err)
}

func TestFileStore_RejectsMalformedKey(t *testing.T) {
	_, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "s.json"), storage.WithSealingKey("not-hex"))
	require.Error(t, err)
}

func TestFileStore_NullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

	s, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "v"))
}
