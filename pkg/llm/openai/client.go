// Package openai реализует адаптер LLM провайдера для OpenAI-совместимых API.
//
// Поддерживает Function Calling (tools), стриминг и эмбеддинги.
// Соблюдает правило 4 манифеста: работает только через интерфейсы
// llm.CompletionProvider и llm.EmbeddingProvider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/utils"
)

// DefaultEmbeddingDimensions - размерность векторов text-embedding-3-*.
const DefaultEmbeddingDimensions = 1536

// Client реализует llm.CompletionProvider и llm.EmbeddingProvider.
//
// Поддерживает:
//   - Базовую генерацию текста
//   - Function Calling (tools)
//   - Стриминг с сохранением фрагментов tool calls
//   - Vision запросы (изображения)
//   - Эмбеддинги
type Client struct {
	api        *openai.Client
	model      string
	dimensions int
}

// NewClient создает OpenAI клиент на основе конфигурации модели.
//
// Правило 2: Все настройки из конфигурации, никакого хардкода.
func NewClient(modelDef config.ModelDef) *Client {
	// Поддержка custom BaseURL для OpenAI-совместимых провайдеров
	cfg := openai.DefaultConfig(modelDef.APIKey)
	if modelDef.BaseURL != "" {
		cfg.BaseURL = modelDef.BaseURL
	}
	if modelDef.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: modelDef.Timeout}
	}

	dimensions := modelDef.Dimensions
	if dimensions == 0 {
		dimensions = DefaultEmbeddingDimensions
	}

	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		model:      modelDef.ModelName,
		dimensions: dimensions,
	}
}

// CreateCompletion выполняет нестриминговый запрос к API.
//
// Алгоритм:
//  1. Конвертирует внутренние сообщения и tools в формат OpenAI SDK
//  2. Вызывает API
//  3. Классифицирует ошибку (retryable / fatal)
//  4. Конвертирует choices[0] обратно в наш формат
//
// Правило 7: Все ошибки возвращаются, никаких panic.
func (c *Client) CreateCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	startTime := time.Now()
	apiReq := c.buildRequest(req)

	utils.Debug("LLM request started",
		"model", apiReq.Model,
		"messages_count", len(apiReq.Messages),
		"tools_count", len(apiReq.Tools))

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		utils.Error("LLM API request failed",
			"error", err,
			"model", apiReq.Model,
			"duration_ms", time.Since(startTime).Milliseconds())
		return nil, fmt.Errorf("openai api error: %w", classifyError(err))
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Message:      mapFromOpenAI(choice.Message),
		FinishReason: llm.FinishReason(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	utils.Info("LLM response received",
		"model", apiReq.Model,
		"tool_calls_count", len(result.Message.ToolCalls),
		"content_length", len(result.Message.Content),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// CreateCompletionStream открывает стриминговый ответ.
//
// Ошибки чтения стрима классифицируются так же, как ошибки запроса:
// обрыв соединения посреди ответа - retryable.
func (c *Client) CreateCompletionStream(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	apiReq := c.buildRequest(req)
	apiReq.Stream = true
	apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	utils.Debug("LLM stream started",
		"model", apiReq.Model,
		"messages_count", len(apiReq.Messages),
		"tools_count", len(apiReq.Tools))

	stream, err := c.api.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		utils.Error("LLM stream request failed", "error", err, "model", apiReq.Model)
		return nil, fmt.Errorf("openai api error: %w", classifyError(err))
	}

	return &chunkStream{stream: stream}, nil
}

// CreateEmbedding возвращает вектор для текста.
//
// Для моделей text-embedding-3-* явно запрашивается размерность,
// чтобы векторы совпадали с колонкой хранилища.
func (c *Client) CreateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	if model == "" {
		model = c.model
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	}
	if strings.HasPrefix(model, "text-embedding-3") {
		req.Dimensions = c.dimensions
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		utils.Error("Embedding request failed", "error", err, "model", model)
		return nil, fmt.Errorf("openai embedding error: %w", classifyError(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}

	return resp.Data[0].Embedding, nil
}

// buildRequest конвертирует унифицированный запрос в формат SDK.
func (c *Client) buildRequest(req llm.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = mapToOpenAI(m)
	}

	apiReq := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		Temperature:         float32(req.Temperature),
		TopP:                float32(req.TopP),
		N:                   req.N,
		MaxCompletionTokens: req.MaxCompletionTokens,
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = convertToolsToOpenAI(req.Tools)
		// Включаем автоматический режим - LLM сама решает когда вызывать tools
		apiReq.ToolChoice = "auto"
		if req.ToolChoice != "" {
			apiReq.ToolChoice = req.ToolChoice
		}
	}

	return apiReq
}

// classifyError отделяет временные сбои от фатальных.
//
// Retryable:
//   - ошибки соединения
//   - HTTP 409/429/502/503/504
//   - коды server_error / rate_limit_exceeded
//   - 404 "Engine not found" (деплой модели ещё прогревается)
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if errkind.RetryableStatus(apiErr.HTTPStatusCode) {
			return errkind.Retryable(err)
		}
		if apiErr.HTTPStatusCode == http.StatusNotFound && apiErr.Message == "Engine not found" {
			return errkind.Retryable(err)
		}
		if code, ok := apiErr.Code.(string); ok && errkind.RetryableCode(code) {
			return errkind.Retryable(err)
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if errkind.RetryableStatus(reqErr.HTTPStatusCode) || errkind.IsConnectionError(reqErr.Err) {
			return errkind.Retryable(err)
		}
		return err
	}

	if errkind.IsConnectionError(err) {
		return errkind.Retryable(err)
	}
	return err
}

// chunkStream адаптирует *openai.ChatCompletionStream к llm.Stream.
type chunkStream struct {
	stream *openai.ChatCompletionStream
}

// Recv реализует llm.Stream.
func (s *chunkStream) Recv() (llm.CompletionChunk, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return llm.CompletionChunk{}, io.EOF
	}
	if err != nil {
		return llm.CompletionChunk{}, fmt.Errorf("openai stream error: %w", classifyError(err))
	}

	chunk := llm.CompletionChunk{
		ID:    resp.ID,
		Model: resp.Model,
	}
	if resp.Usage != nil {
		chunk.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return chunk, nil
	}

	choice := resp.Choices[0]
	chunk.Role = llm.Role(choice.Delta.Role)
	chunk.Content = choice.Delta.Content
	chunk.Refusal = choice.Delta.Refusal
	chunk.FinishReason = llm.FinishReason(choice.FinishReason)

	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Type:      string(tc.Type),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return chunk, nil
}

// Close реализует llm.Stream.
func (s *chunkStream) Close() error {
	return s.stream.Close()
}

// mapToOpenAI конвертирует наше внутреннее сообщение в формат SDK.
// Здесь происходит магия Vision: если есть части, создаем MultiContent.
func mapToOpenAI(m llm.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	// Если частей нет, отправляем просто текст
	if len(m.Parts) == 0 {
		msg.Content = m.Content
		return msg
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: m.Content,
		})
	}
	for _, p := range m.Parts {
		switch p.Type {
		case llm.TypeImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.ImageURL, // Ожидается base64 data-uri или http ссылка
					Detail: openai.ImageURLDetailAuto,
				},
			})
		default:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}

	msg.MultiContent = parts
	return msg
}

// mapFromOpenAI конвертирует ответ SDK во внутренний формат.
func mapFromOpenAI(m openai.ChatCompletionMessage) llm.Message {
	result := llm.Message{
		Role:    llm.Role(m.Role),
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Type:      string(tc.Type),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}

// convertToolsToOpenAI конвертирует определения функций в формат
// OpenAI Function Calling.
//
// Parameters уже является JSON Schema объектом и передаётся в SDK напрямую.
func convertToolsToOpenAI(defs []llm.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))

	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Strict:      def.Strict,
				Parameters:  def.Parameters,
			},
		}
	}

	return result
}

var (
	_ llm.CompletionProvider = (*Client)(nil)
	_ llm.EmbeddingProvider  = (*Client)(nil)
	_ llm.Stream             = (*chunkStream)(nil)
)
