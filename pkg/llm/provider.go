// Интерфейсы провайдеров через которые работает всё приложение.

package llm

import "context"

// CompletionRequest - унифицированный запрос к модели.
type CompletionRequest struct {
	Model               string
	Messages            []Message
	Tools               []ToolDefinition
	ToolChoice          string // "auto" если Tools не пуст
	Temperature         float64
	TopP                float64
	N                   int
	MaxCompletionTokens int
}

// CompletionProvider - контракт для любого chat completion сервиса.
//
// # Rule 4: LLM Abstraction
//
// Конкретные реализации (OpenAI и совместимые API) скрыты за интерфейсом.
//
// # Ошибки
//
// Временные сбои (соединение, 409/429/502/503/504, коды server_error и
// rate_limit_exceeded) возвращаются обёрнутыми в errkind.RetryableError.
// Все остальные ошибки фатальны.
type CompletionProvider interface {
	// CreateCompletion выполняет нестриминговый запрос.
	CreateCompletion(ctx context.Context, req CompletionRequest) (*Completion, error)

	// CreateCompletionStream открывает стриминговый ответ.
	CreateCompletionStream(ctx context.Context, req CompletionRequest) (Stream, error)
}

// EmbeddingProvider - контракт для сервиса эмбеддингов.
type EmbeddingProvider interface {
	// CreateEmbedding возвращает вектор для текста.
	CreateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
}

// Stream - поток чанков ответа модели.
//
// Recv возвращает io.EOF после последнего чанка.
// Close освобождает соединение и может вызываться многократно.
type Stream interface {
	Recv() (CompletionChunk, error)
	Close() error
}

// Provider объединяет completion и embedding, как это делает OpenAI API.
type Provider interface {
	CompletionProvider
	EmbeddingProvider
}
