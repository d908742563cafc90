package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	m := NewMemoryFileSystem()

	_, err := m.Create("results/run/out.npy")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, m.MkdirAll("results/run", 0755))
	assert.Equal(t, []string{"results", "results/run"}, m.Dirs("results"))

	w, err := m.Create("results/run/out.npy")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := m.ReadFile("results/run/./out.npy")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	info, err := m.Stat("results/run/out.npy")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	assert.False(t, info.IsDir())
	assert.True(t, Exists(m, "results/run"))
	assert.Equal(t, []string{"results/run/out.npy"}, m.Files())
}

func TestMemoryFileSystem_MkdirOverFile(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("log.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Error(t, m.MkdirAll("log.txt", 0755))
	_, err = m.ReadFile("missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, fsys.MkdirAll(dir, 0755))
	w, err := fsys.Create(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := fsys.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, Exists(fsys, dir))
	assert.False(t, Exists(fsys, filepath.Join(dir, "nope")))
}
