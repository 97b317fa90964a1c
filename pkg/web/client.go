// Package web - HTTP клиент для инструментов, которые ходят в интернет.
//
// Клиент "тупой": rate limiting по ключу, retry временных сбоев и
// классификация ошибок. Что делать с ответом, решает инструмент
// в pkg/tools/std.
//
// Временные сбои (сеть, 409/429/502/503/504) после исчерпания попыток
// возвращаются обёрнутыми в errkind.RetryableError.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/utils"
)

// DefaultMaxBytes - максимальный размер тела ответа (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// HTTPClient интерфейс для выполнения HTTP запросов.
//
// Позволяет мокировать HTTP клиент в тестах (Rule 9).
// Стандартный *http.Client реализует этот интерфейс.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError - ответ с не-2xx статусом.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Page - скачанный ответ.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
}

// Client - HTTP клиент с rate limiting и retry.
type Client struct {
	httpClient    HTTPClient
	retryAttempts int
	retryWait     time.Duration
	rateLimit     int // запросов в минуту
	burst         int
	maxBytes      int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // ключ (обычно имя инструмента) → limiter
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиент (тесты).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryWait задаёт паузу между попытками.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// WithMaxBytes ограничивает размер тела ответа.
func WithMaxBytes(n int64) Option {
	return func(c *Client) { c.maxBytes = n }
}

// NewFromConfig создаёт клиент из секции search конфига.
// Поля с нулевыми значениями используют GetDefaults().
func NewFromConfig(cfg config.SearchConfig, opts ...Option) (*Client, error) {
	cfg = cfg.GetDefaults()

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid search.timeout format: %w", err)
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: cfg.RetryAttempts,
		retryWait:     time.Second,
		rateLimit:     cfg.RateLimit,
		burst:         cfg.BurstLimit,
		maxBytes:      DefaultMaxBytes,
		limiters:      make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetJSON выполняет GET и разбирает JSON ответ в dest.
func (c *Client) GetJSON(ctx context.Context, key, rawURL string, params url.Values, dest any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	page, err := c.do(ctx, key, u.String(), "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(page.Body, dest); err != nil {
		return fmt.Errorf("unmarshal error: %w", err)
	}
	return nil
}

// Fetch скачивает страницу. Тело обрезается до maxBytes.
func (c *Client) Fetch(ctx context.Context, key, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return c.do(ctx, key, u.String(), "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
}

// do выполняет GET с retry логикой и rate limiting.
func (c *Client) do(ctx context.Context, key, target, accept string) (*Page, error) {
	limiter := c.getOrCreateLimiter(key)

	var lastErr error
	attempts := c.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := c.retryWait
			if se, ok := lastErr.(*retryAfterError); ok && se.after > 0 {
				wait = se.after
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		// Ждем разрешения от лимитера (блокирует горутину, если превысили лимит)
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		page, err := c.once(ctx, target, accept)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}

		utils.Debug("web request failed, retrying", "key", key, "url", target, "attempt", i+1, "error", err)
		lastErr = err
	}

	if ra, ok := lastErr.(*retryAfterError); ok {
		lastErr = ra.StatusError
	}
	return nil, errkind.Retryable(fmt.Errorf("max retries exceeded: %w", lastErr))
}

// retryAfterError - временный статус с подсказкой сервера, когда повторить.
type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func retryable(err error) bool {
	if _, ok := err.(*retryAfterError); ok {
		return true
	}
	return errkind.IsConnectionError(err)
}

func (c *Client) once(ctx context.Context, target, accept string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "cortex/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	truncated := int64(len(body)) > c.maxBytes
	if truncated {
		body = body[:c.maxBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode, Body: string(truncate(body, 512))}
		if errkind.RetryableStatus(resp.StatusCode) {
			return nil, &retryAfterError{StatusError: se, after: retryAfter(resp.Header)}
		}
		return nil, se
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Page{
		URL:         final,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Truncated:   truncated,
	}, nil
}

const maxRetryAfter = 30 * time.Second

// retryAfter читает заголовок Retry-After в секундах.
func retryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
			return min(time.Duration(sec)*time.Second, maxRetryAfter)
		}
	}
	return 0
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// getOrCreateLimiter возвращает существующий limiter для ключа или создаёт новый.
//
// rateLimit в запросах/минуту → rate.Limit в запросах/секунду.
func (c *Client) getOrCreateLimiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limiter, exists := c.limiters[key]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(c.rateLimit)/60.0), c.burst)
	c.limiters[key] = limiter
	return limiter
}
