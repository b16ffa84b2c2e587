package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage keeps images in a directory served under baseURL
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates dir when missing
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the directory images are written to
func (l *LocalStorage) Dir() string {
	return l.dir
}

// Save writes r to a new file and returns its public reference
func (l *LocalStorage) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := objectName(filename)
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close image file: %w", err)
	}

	return join(l.baseURL, name), nil
}

// Delete removes a previously saved image. Missing files are ignored.
func (l *LocalStorage) Delete(ctx context.Context, ref string) error {
	err := os.Remove(filepath.Join(l.dir, nameFromRef(ref)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
