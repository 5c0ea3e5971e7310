package wallets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polysignal/internal/db"
	"polysignal/internal/store"
)

func TestRegistry_MissingFileIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "wallets.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Addresses())
}

func TestRegistry_AddRemoveRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wallets.yaml")
	r, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, r.Add("whale", "0xABCDEF0123456789"))
	require.NoError(t, r.Add("", "0x2"))
	assert.ErrorIs(t, r.Add("dup", "0xabcdef0123456789"), ErrExists)
	assert.Error(t, r.Add("blank", "  "))

	w, ok := r.Lookup("0xabcdef0123456789")
	require.True(t, ok)
	assert.Equal(t, "whale", w.Name)
	assert.True(t, r.IsTracked("0XABCDEF0123456789"))
	assert.Equal(t, []string{"0xabcdef0123456789", "0x2"}, r.Addresses())

	require.NoError(t, r.Rename("0xabcdef0123456789", "orca"))
	assert.Equal(t, "orca", r.DisplayName("0xABCDEF0123456789"))
	assert.Equal(t, "0x9999...9999", r.DisplayName("0x99999999999999"))
	assert.Equal(t, "0x2", r.DisplayName("0x2"))

	assert.ErrorIs(t, r.Remove("0xnope"), ErrNotFound)
	assert.ErrorIs(t, r.Rename("0xnope", "x"), ErrNotFound)
	require.NoError(t, r.Remove("0x2"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Wallet{{Name: "orca", Wallet: "0xABCDEF0123456789"}}, reloaded.All())
}

func TestRegistry_ImportJSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tracked_users.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"tracked_users": [
		{"name": "a", "wallet": "0xA"},
		{"name": "b", "wallet": "0xB"},
		{"name": "none", "wallet": ""}
	]}`), 0644))

	r, err := Load(filepath.Join(dir, "wallets.yaml"))
	require.NoError(t, err)
	require.NoError(t, r.Add("existing", "0xa"))

	added, err := r.Import(src)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, r.Len())

	added, err = r.Import(src)
	require.NoError(t, err)
	assert.Zero(t, added)

	_, err = r.Import(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestRegistry_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracked_users: [oops"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRegistry_Sync(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database))
	s := store.New(database)

	r, err := Load(filepath.Join(t.TempDir(), "wallets.yaml"))
	require.NoError(t, err)
	require.NoError(t, r.Add("whale", "0xABC"))

	require.NoError(t, r.Sync(context.Background(), s))
	got, err := s.TrackedWallets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []store.TrackedWallet{{Address: "0xabc", Name: "whale"}}, got)
}
