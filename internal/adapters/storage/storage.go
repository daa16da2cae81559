// Package storage provides object storage adapters for PDF sources.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// Config selects and configures a storage backend.
type Config struct {
	Type  output.StorageType
	Local LocalConfig
	S3    S3Config
	Azure AzureConfig
	HTTP  HTTPConfig
}

// New creates the configured backend. An empty type returns nil storage.
func New(ctx context.Context, cfg Config) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case output.StorageTypeLocal:
		return NewLocalStorage(cfg.Local.Path), nil
	case output.StorageTypeS3:
		s, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case output.StorageTypeAzure:
		s, err := NewAzureStorage(cfg.Azure)
		if err != nil {
			return nil, err
		}
		return s, nil
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type %q", cfg.Type)}
	}
}

// joinPrefix returns the backend key for a relative key.
func joinPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// trimPrefix returns the relative key for a backend key.
func trimPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

// writeFile streams r into dest through a temp file in the same directory.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

func sourceError(op, key string, err error) error {
	return &domain.SourceError{Operation: op, Key: key, Err: err}
}

func notFound(op, key string) error {
	return sourceError(op, key, domain.ErrNotFound)
}
