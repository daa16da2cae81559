// Package fetch implements the network side of tile downloads.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// DefaultUserAgent identifies the service to tile providers.
const DefaultUserAgent = "terestria-tilecache/1.0"

// maxTileBytes bounds a single response body.
const maxTileBytes = 16 << 20

// HTTPFetcher implements output.TileFetcher over HTTP(S).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// HTTPConfig holds tile fetcher configuration.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
}

// NewHTTPFetcher creates a tile fetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		userAgent: cfg.UserAgent,
	}
}

// Fetch performs one GET and classifies the outcome. It never retries.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) output.FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return output.Fatal(0, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/png,image/*;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return output.Retryable(resp.StatusCode, fmt.Errorf("rate limited by %s", req.URL.Host))
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return output.Retryable(resp.StatusCode, fmt.Errorf("server returned status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return output.Fatal(resp.StatusCode, fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		// Body read failures are interrupted transfers.
		return classifyTransportError(ctx, err)
	}
	if len(data) == 0 {
		return output.Fatal(resp.StatusCode, errors.New("empty tile body"))
	}
	if len(data) > maxTileBytes {
		return output.Fatal(resp.StatusCode, fmt.Errorf("tile larger than %d bytes", maxTileBytes))
	}
	return output.FetchResult{Outcome: output.FetchOK, Data: data, StatusCode: resp.StatusCode}
}

func classifyTransportError(ctx context.Context, err error) output.FetchResult {
	if ctx.Err() != nil {
		return output.Fatal(0, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return output.Retryable(0, fmt.Errorf("timeout: %w", err))
	}
	return output.Retryable(0, err)
}

var _ output.TileFetcher = (*HTTPFetcher)(nil)
