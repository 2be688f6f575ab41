package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultLocalPath = "./files/archive"

// LocalStorage keeps archives under a directory on disk.
type LocalStorage struct {
	root string
}

func NewLocalStorage(config Config) (*LocalStorage, error) {
	root := config.LocalPath
	if root == "" {
		root = defaultLocalPath
	}
	root = filepath.Clean(root)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive directory %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// Store writes to a temporary file next to the target and renames it into
// place, so readers never observe a partially written archive.
func (s *LocalStorage) Store(_ context.Context, path string, reader io.Reader, size int64) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".archive-*")
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	written, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("archive %s: %w", path, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("archive %s: %w", path, closeErr)
	case size >= 0 && written != size:
		err = fmt.Errorf("archive %s: wrote %d of %d bytes", path, written, size)
	default:
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		os.Remove(tmp.Name())
	}
	return err
}

func (s *LocalStorage) Get(_ context.Context, path string) (io.ReadCloser, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Delete is a no-op for archives that are already gone.
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove archive %s: %w", path, err)
	}
	return nil
}

// resolve maps an archive path below the root; ".." segments cannot escape it.
func (s *LocalStorage) resolve(path string) (string, error) {
	target := filepath.Join(s.root, filepath.Clean("/"+path))
	if target == s.root || !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive path: %q", path)
	}
	return target, nil
}
