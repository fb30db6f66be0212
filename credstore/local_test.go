package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-broker/common"
)

func TestLocalBackend_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := newLocalBackend(dir)
	require.NoError(t, err)

	require.NoError(t, b.set("profile-1", "payload-1"))
	require.NoError(t, b.set("profile-2", "payload-2"))

	// A fresh backend over the same file decrypts the same entries.
	b2, err := newLocalBackend(dir)
	require.NoError(t, err)

	got, ok := b2.get("profile-1")
	assert.True(t, ok)
	assert.Equal(t, "payload-1", got)

	got, ok = b2.get("profile-2")
	assert.True(t, ok)
	assert.Equal(t, "payload-2", got)
}

func TestLocalBackend_FilePermissionsAndCiphertext(t *testing.T) {
	dir := t.TempDir()
	b, err := newLocalBackend(dir)
	require.NoError(t, err)

	require.NoError(t, b.set("profile-1", "very-secret-payload"))

	path := filepath.Join(dir, common.CredentialsFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The plaintext never appears on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "very-secret-payload")
}

func TestLocalBackend_Delete(t *testing.T) {
	b, err := newLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.set("profile-1", "payload"))
	require.NoError(t, b.delete("profile-1"))

	_, ok := b.get("profile-1")
	assert.False(t, ok)

	// Deleting a missing entry is a no-op.
	require.NoError(t, b.delete("profile-1"))
}

func TestLocalBackend_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, common.CredentialsFileName)
	require.NoError(t, os.WriteFile(path, []byte("not an encrypted blob at all"), 0600))

	_, err := newLocalBackend(dir)
	assert.ErrorIs(t, err, common.ErrDecryption)
}
