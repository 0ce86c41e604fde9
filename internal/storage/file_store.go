// Package storage provides a local-filesystem implementation of the ObjectStore interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/kokoro-tts/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
	defaultDir      = "outputs"
)

var (
	// ErrInvalidKey is returned for keys that do not name a plain file.
	ErrInvalidKey = errors.New("invalid object key")
)

// FileStore keeps objects as files in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = defaultDir
	}

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Upload writes data under key. The file is written to a temp name and renamed,
// so readers never observe a partial file.
func (fs *FileStore) Upload(_ context.Context, key string, data []byte) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(fs.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", fs.dir, err)
	}

	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	err = errors.Join(writeErr, closeErr)
	if err == nil {
		err = os.Chmod(tempName, filePermissions)
	}

	if err == nil {
		err = os.Rename(tempName, path)
	}

	if err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write object '%s': %w", key, err)
	}

	return nil
}

// Download reads the object stored under key.
func (fs *FileStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s'", core.ErrNotFound, key)
		}

		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

func (fs *FileStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidKey, key)
	}

	return filepath.Join(fs.dir, key), nil
}
