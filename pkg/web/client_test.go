package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/errkind"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetryWait(time.Millisecond)}, opts...)
	c, err := NewFromConfig(config.SearchConfig{RateLimit: 60000, BurstLimit: 100, RetryAttempts: 3}, opts...)
	require.NoError(t, err)
	return c
}

func TestGetJSON_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "go", r.URL.Query().Get("q"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var dest struct {
		OK bool `json:"ok"`
	}
	err := newTestClient(t).GetJSON(context.Background(), "web_search", srv.URL, url.Values{"q": {"go"}}, &dest)
	require.NoError(t, err)
	assert.True(t, dest.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetJSON_StatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
		calls     int32
	}{
		{http.StatusTooManyRequests, true, 3},
		{http.StatusBadGateway, true, 3},
		{http.StatusConflict, true, 3},
		{http.StatusNotFound, false, 1},
		{http.StatusInternalServerError, false, 1},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			var dest map[string]any
			err := newTestClient(t).GetJSON(context.Background(), "k", srv.URL, nil, &dest)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errkind.IsRetryable(err))
			assert.Equal(t, tt.calls, calls.Load())

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestFetch_ConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t).Fetch(context.Background(), "open_url", addr)
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))
}

func TestFetch_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "0123456789")
	}))
	defer srv.Close()

	page, err := newTestClient(t, WithMaxBytes(4)).Fetch(context.Background(), "open_url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(page.Body))
	assert.True(t, page.Truncated)
	assert.Equal(t, "text/plain", page.ContentType)
}

func TestFetch_RejectsScheme(t *testing.T) {
	_, err := newTestClient(t).Fetch(context.Background(), "open_url", "file:///etc/passwd")
	assert.ErrorContains(t, err, "unsupported url scheme")
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t).Fetch(ctx, "open_url", srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFromConfig_BadTimeout(t *testing.T) {
	_, err := NewFromConfig(config.SearchConfig{Timeout: "soon"})
	assert.ErrorContains(t, err, "invalid search.timeout")
}

func TestExtractText(t *testing.T) {
	raw := []byte(`<html><head><title> Go  Weather </title><style>p{}</style></head>
<body><nav>menu</nav><h1>Today</h1><p>Sunny   and
warm.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`)

	title, text := ExtractText(raw)
	assert.Equal(t, "Go Weather", title)
	assert.Contains(t, text, "Today")
	assert.Contains(t, text, "Sunny and warm.")
	assert.Contains(t, text, "one")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "p{}")
}
