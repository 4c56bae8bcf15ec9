package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	blob := []byte(`[{"name":"sid","value":"abc123"}]`)
	path, err := s.Save("checkout", blob)
	require.NoError(t, err)
	assert.FileExists(t, path)

	got, err := s.Load("checkout")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	assert.True(t, s.Exists("checkout"))
}

func TestLoadMissingSession(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("never-saved")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, s.Exists("never-saved"))
}

func TestSaveReplacesWhole(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save("main", []byte("first state with more bytes"))
	require.NoError(t, err)
	_, err = s.Save("main", []byte("second"))
	require.NoError(t, err)

	got, err := s.Load("main")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestNameSanitization(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	path, err := s.Save("../../etc/passwd", []byte("x"))
	require.NoError(t, err)

	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
	assert.Equal(t, "etcpasswd.json", rel)
}

func TestEmptyNameFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	path, err := s.Save("!!!", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "default.json"), path)
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	_, err := NewStore(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
