package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

func TestHTTPFetcherClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome output.FetchOutcome
		wantLimited bool
	}{
		{"ok", http.StatusOK, "png-bytes", output.FetchOK, false},
		{"rate limited", http.StatusTooManyRequests, "", output.FetchRetryable, true},
		{"server error", http.StatusInternalServerError, "", output.FetchRetryable, false},
		{"bad gateway", http.StatusBadGateway, "", output.FetchRetryable, false},
		{"not found", http.StatusNotFound, "", output.FetchFatal, false},
		{"forbidden", http.StatusForbidden, "", output.FetchFatal, false},
		{"empty body", http.StatusOK, "", output.FetchFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewHTTPFetcher(HTTPConfig{})
			res := f.Fetch(context.Background(), srv.URL+"/1/2/3.png")

			assert.Equal(t, tt.wantOutcome, res.Outcome, "err: %v", res.Err)
			assert.Equal(t, tt.wantLimited, res.RateLimited)
			if tt.wantOutcome == output.FetchOK {
				assert.Equal(t, []byte(tt.body), res.Data)
			} else {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestHTTPFetcherSendsHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{UserAgent: "field-app/2"})
	res := f.Fetch(context.Background(), srv.URL)
	require.Equal(t, output.FetchOK, res.Outcome)

	assert.Equal(t, "field-app/2", gotUA)
	assert.Contains(t, gotAccept, "image/png")
}

func TestHTTPFetcherTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(HTTPConfig{Timeout: 50 * time.Millisecond})
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, output.FetchRetryable, res.Outcome)
	assert.Zero(t, res.StatusCode)
}

func TestHTTPFetcherCancelledContextIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTPFetcher(HTTPConfig{})
	res := f.Fetch(ctx, srv.URL)

	assert.Equal(t, output.FetchFatal, res.Outcome)
}
