package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled ограничивает частоту обращений к провайдеру через rate.Limiter.
//
// Каждый вызов ждёт токен лимитера до обращения к API. Отмена контекста
// во время ожидания возвращается как обычная ошибка контекста.
type Throttled struct {
	completion CompletionProvider
	embedding  EmbeddingProvider
	limiter    *rate.Limiter
}

// Throttle оборачивает провайдер. embedding может быть nil.
func Throttle(completion CompletionProvider, embedding EmbeddingProvider, limiter *rate.Limiter) *Throttled {
	return &Throttled{
		completion: completion,
		embedding:  embedding,
		limiter:    limiter,
	}
}

// NewLimiter создаёт лимитер из лимита запросов в минуту, как в конфиге.
// perMinute <= 0 означает без ограничений.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

func (t *Throttled) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// CreateCompletion реализует CompletionProvider.
func (t *Throttled) CreateCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.completion.CreateCompletion(ctx, req)
}

// CreateCompletionStream реализует CompletionProvider.
func (t *Throttled) CreateCompletionStream(ctx context.Context, req CompletionRequest) (Stream, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.completion.CreateCompletionStream(ctx, req)
}

// CreateEmbedding реализует EmbeddingProvider.
func (t *Throttled) CreateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	if t.embedding == nil {
		return nil, fmt.Errorf("throttled provider has no embedding backend")
	}
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.embedding.CreateEmbedding(ctx, text, model)
}

var (
	_ CompletionProvider = (*Throttled)(nil)
	_ EmbeddingProvider  = (*Throttled)(nil)
)
