package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-broker/common"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = "client\nremote vpn.example.com 1194\ndev tun\n"

func TestImport(t *testing.T) {
	dir := t.TempDir()
	r, err := NewAt(dir)
	require.NoError(t, err)

	src := writeConfig(t, t.TempDir(), "office.ovpn", validConfig)

	profile, err := r.Import(src)
	require.NoError(t, err)

	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "office", profile.Name)
	assert.Equal(t, src, profile.SourcePath)
	assert.False(t, profile.ImportedAt.IsZero())

	// The config is copied under the registry's control.
	assert.True(t, common.FileExists(profile.ConfigPath))
	data, err := os.ReadFile(profile.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, validConfig, string(data))
}

func TestImport_Invalid(t *testing.T) {
	dir := t.TempDir()
	r, err := NewAt(dir)
	require.NoError(t, err)

	srcDir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(srcDir, "nope.ovpn")},
		{"wrong extension", writeConfig(t, srcDir, "notes.txt", validConfig)},
		{"no directives", writeConfig(t, srcDir, "empty.ovpn", "# nothing here\n")},
		{"directory", srcDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Import(tt.path)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestImport_DuplicateName(t *testing.T) {
	r, err := NewAt(t.TempDir())
	require.NoError(t, err)

	srcDir := t.TempDir()
	src := writeConfig(t, srcDir, "office.ovpn", validConfig)

	_, err = r.Import(src)
	require.NoError(t, err)

	_, err = r.Import(src)
	assert.ErrorIs(t, err, common.ErrDuplicateName)
}

func TestList_OrderedByImportTime(t *testing.T) {
	r, err := NewAt(t.TempDir())
	require.NoError(t, err)

	srcDir := t.TempDir()
	for _, name := range []string{"zeta.ovpn", "alpha.ovpn", "mid.ovpn"} {
		_, err := r.Import(writeConfig(t, srcDir, name, validConfig))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "zeta", list[0].Name)
	assert.Equal(t, "alpha", list[1].Name)
	assert.Equal(t, "mid", list[2].Name)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	r, err := NewAt(dir)
	require.NoError(t, err)

	src := writeConfig(t, t.TempDir(), "office.ovpn", validConfig)
	profile, err := r.Import(src)
	require.NoError(t, err)

	require.NoError(t, r.Remove(profile.ID))

	_, err = r.Get(profile.ID)
	assert.ErrorIs(t, err, common.ErrProfileNotFound)
	assert.False(t, common.FileExists(profile.ConfigPath))

	assert.ErrorIs(t, r.Remove(profile.ID), common.ErrProfileNotFound)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	r, err := NewAt(dir)
	require.NoError(t, err)

	src := writeConfig(t, t.TempDir(), "office.ovpn", validConfig)
	profile, err := r.Import(src)
	require.NoError(t, err)
	require.NoError(t, r.SetUsername(profile.ID, "alice"))

	// A fresh registry over the same directory sees the same profiles.
	r2, err := NewAt(dir)
	require.NoError(t, err)

	got, err := r2.Get(profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "office", got.Name)
	assert.Equal(t, "alice", got.Username)
}

func TestGetByName(t *testing.T) {
	r, err := NewAt(t.TempDir())
	require.NoError(t, err)

	src := writeConfig(t, t.TempDir(), "office.ovpn", validConfig)
	_, err = r.Import(src)
	require.NoError(t, err)

	got, err := r.GetByName("office")
	require.NoError(t, err)
	assert.Equal(t, "office", got.Name)

	_, err = r.GetByName("home")
	assert.ErrorIs(t, err, common.ErrProfileNotFound)
}
