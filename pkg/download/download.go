// Package download saves received file transfers to disk without clobbering
// existing files.
package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatline/chatline/internal/wire"
)

// maxSuffix caps the collision-avoidance search.
const maxSuffix = 10000

// Save writes the transfer's content into dir, creating it if needed. When a
// file of the same name exists the name is suffixed "name (k).ext" with the
// smallest free k. Returns the path actually written.
func Save(dir string, file *wire.FileTransfer) (string, error) {
	if file == nil || file.Filename == "" {
		return "", fmt.Errorf("download: transfer has no filename")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("download: create directory %s: %w", dir, err)
	}

	// Strip any path the sender attached; only the base name is trusted.
	name := filepath.Base(file.Filename)

	path, err := freePath(dir, name)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, file.Content, 0644); err != nil {
		return "", fmt.Errorf("download: write %s: %w", path, err)
	}
	return path, nil
}

// freePath finds the first non-existing path for name inside dir.
func freePath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for k := 1; k < maxSuffix; k++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, k, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("download: no free name for %s in %s", name, dir)
}
