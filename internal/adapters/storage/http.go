package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// HTTPStorage implements ObjectStorage over plain HTTP(S). The available
// files are listed one per line in an index file.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

var _ output.ObjectStorage = (*HTTPStorage)(nil)

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List returns the PDF files named in the index file. Blank lines and
// lines starting with # are ignored.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	resp, err := s.do(ctx, http.MethodGet, s.indexFile)
	if err != nil {
		return nil, sourceError("list", s.indexFile, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, sourceError("list", s.indexFile, fmt.Errorf("index returned status %d", resp.StatusCode))
	}

	var objects []output.StorageObject
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !output.IsPDFKey(line) {
			continue
		}
		objects = append(objects, output.StorageObject{Key: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, sourceError("list", s.indexFile, err)
	}

	return objects, nil
}

// Download downloads a file to the local filesystem.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
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

// GetReader returns the response body for key.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, sourceError("get", key, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, notFound("get", key)
	default:
		_ = resp.Body.Close()
		return nil, sourceError("get", key, fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Exists sends a HEAD request for key.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, key)
	if err != nil {
		return false, sourceError("head", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, sourceError("head", key, fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (s *HTTPStorage) do(ctx context.Context, method, key string) (*http.Response, error) {
	fileURL, err := url.JoinPath(s.baseURL, key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, fileURL, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	return s.client.Do(req)
}
