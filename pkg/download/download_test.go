package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/chatline/internal/wire"
)

func TestSaveWritesFile(t *testing.T) {
	dir := t.TempDir()

	path, err := Save(dir, &wire.FileTransfer{Filename: "notes.txt", Content: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestSaveAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()

	first, err := Save(dir, &wire.FileTransfer{Filename: "photo.jpg", Content: []byte("a")})
	require.NoError(t, err)
	second, err := Save(dir, &wire.FileTransfer{Filename: "photo.jpg", Content: []byte("b")})
	require.NoError(t, err)
	third, err := Save(dir, &wire.FileTransfer{Filename: "photo.jpg", Content: []byte("c")})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "photo.jpg"), first)
	assert.Equal(t, filepath.Join(dir, "photo (1).jpg"), second)
	assert.Equal(t, filepath.Join(dir, "photo (2).jpg"), third)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data, "original file is never overwritten")
}

func TestSaveStripsSenderPath(t *testing.T) {
	dir := t.TempDir()

	path, err := Save(dir, &wire.FileTransfer{Filename: "../../etc/passwd", Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), path)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	_, err := Save(dir, &wire.FileTransfer{Filename: "f.bin", Content: nil})
	require.NoError(t, err)
}

func TestSaveRejectsMissingFilename(t *testing.T) {
	_, err := Save(t.TempDir(), &wire.FileTransfer{})
	assert.Error(t, err)
	_, err = Save(t.TempDir(), nil)
	assert.Error(t, err)
}
