package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"grist/internal/services"
)

// Store provides access to raw document bytes by storage reference.
type Store interface {
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Put(ctx context.Context, ref string, r io.Reader) (int64, error)
}

// FS is a filesystem-backed object store rooted at a single directory.
// References are relative paths under the root.
type FS struct {
	root string
}

// NewFS creates a filesystem object store rooted at dir.
func NewFS(dir string) (*FS, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("object store root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FS{root: dir}, nil
}

func (s *FS) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", services.Wrap(services.ErrNotFound, "", "object store", "empty storage ref", nil)
	}
	cleaned := filepath.Clean(ref)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", services.Wrap(services.ErrStorage, "", "object store", "storage ref escapes root: "+ref, nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Get opens the referenced object for reading.
func (s *FS) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "", "object store", "object "+ref, err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "object store", "open "+ref, err)
	}
	return file, nil
}

// Put stores the reader's contents under ref, creating parent directories as
// needed, and returns the number of bytes written.
func (s *FS) Put(_ context.Context, ref string, r io.Reader) (int64, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, services.Wrap(services.ErrStorage, "", "object store", "create parent for "+ref, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "", "object store", "create "+ref, err)
	}
	defer file.Close()

	written, err := io.Copy(file, r)
	if err != nil {
		return written, services.Wrap(services.ErrStorage, "", "object store", "write "+ref, err)
	}
	return written, nil
}
