package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// LocalConfig holds local directory configuration.
type LocalConfig struct {
	Path string
}

// LocalStorage implements ObjectStorage for a local directory.
type LocalStorage struct {
	basePath string
}

var _ output.ObjectStorage = (*LocalStorage)(nil)

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all PDF files below the base directory. Keys use forward
// slashes.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !output.IsPDFKey(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, sourceError("list", "", err)
	}

	return objects, nil
}

// Download copies a file to dest.
func (s *LocalStorage) Download(ctx context.Context, key string, dest string) error {
	rc, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := writeFile(dest, rc); err != nil {
		return sourceError("download", key, err)
	}
	return nil
}

// GetReader opens the file for key.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //#nosec G304 -- path is confined to basePath
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound("open", key)
	}
	if err != nil {
		return nil, sourceError("open", key, err)
	}
	return f, nil
}

// Exists checks if a regular file exists for key.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, sourceError("stat", key, err)
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// resolve rejects keys escaping the base directory.
func (s *LocalStorage) resolve(key string) (string, error) {
	clean, err := domain.CleanSourceKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}
