// Package agent - цикл агента с вызовом функций.
//
// Агент отправляет транскрипт модели вместе с доступными функциями,
// выполняет запрошенные вызовы (через семантический кэш и с учётом
// бюджета), дописывает результаты в транскрипт и повторяет, пока модель
// не ответит текстом.
//
// Basic usage:
//
//	a, _ := agent.New(agent.Config{Provider: p, Registry: reg, Model: spec, Encoder: enc})
//	cc := agent.NewContext("C42", tracker, agent.WithCache(c))
//	resp, err := a.ChatCompletionLoop(ctx, messages, cc, false)
package agent

import (
	"fmt"
	"time"

	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/models"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/tools"
)

// Сообщения, которые получает модель вместо результата функции.
const (
	MsgInvalidName      = "name is not match with " + tools.NamePattern
	MsgNotFound         = "name is not found"
	MsgInvalidArguments = "arguments is not a valid JSON string"
	MsgMissingRequired  = "Required parameters are missing"

	// InvalidName подменяет имя вызова, не прошедшее проверку.
	InvalidName = "invalid"
)

// DefaultName - имя агента в сообщениях о прогрессе.
const DefaultName = "Cortex"

// Config - зависимости агента.
//
// Обязательные: Provider, Registry, Model.Name, Model.MaxTokens.
type Config struct {
	Name         string
	SystemPrompt string

	Provider llm.CompletionProvider
	Registry *tools.Registry
	Model    llm.ModelSpec

	// Encoder считает токены. nil = tiktoken для Model.Name.
	Encoder tokenizer.Encoder

	// SummarizeHistory включает сжатие истории, не влезающей в окно.
	SummarizeHistory bool

	// Summarizer - модель для Refine и MapReduce. Пустое имя = gpt-3.5-turbo.
	Summarizer         llm.ModelSpec
	SummarizerProvider llm.CompletionProvider // nil = Provider

	// ToolTimeouts ограничивает время работы функций по имени;
	// DefaultToolTimeout - для остальных. 0 = без ограничения.
	ToolTimeouts       map[string]time.Duration
	DefaultToolTimeout time.Duration
}

// Agent выполняет ChatCompletionLoop. Неизменяем после New, безопасен
// для параллельного использования.
type Agent struct {
	name         string
	systemPrompt string

	provider llm.CompletionProvider
	registry *tools.Registry
	model    llm.ModelSpec
	encoder  tokenizer.Encoder

	summarizeHistory   bool
	summarizer         llm.ModelSpec
	summarizerProvider llm.CompletionProvider

	toolTimeouts       map[string]time.Duration
	defaultToolTimeout time.Duration
}

// New проверяет конфигурацию и создаёт агента.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: registry is required")
	}
	if cfg.Model.Name == "" || cfg.Model.MaxTokens <= 0 {
		return nil, fmt.Errorf("agent: model name and max tokens are required")
	}

	a := &Agent{
		name:               cfg.Name,
		systemPrompt:       cfg.SystemPrompt,
		provider:           cfg.Provider,
		registry:           cfg.Registry,
		model:              cfg.Model,
		encoder:            cfg.Encoder,
		summarizeHistory:   cfg.SummarizeHistory,
		summarizer:         cfg.Summarizer,
		summarizerProvider: cfg.SummarizerProvider,
		toolTimeouts:       make(map[string]time.Duration, len(cfg.ToolTimeouts)),
		defaultToolTimeout: cfg.DefaultToolTimeout,
	}
	for k, v := range cfg.ToolTimeouts {
		a.toolTimeouts[k] = v
	}

	if a.name == "" {
		a.name = DefaultName
	}
	if a.encoder == nil {
		a.encoder = tokenizer.ForModelOrRunes(cfg.Model.Name)
	}
	if a.summarizer.Name == "" {
		a.summarizer = models.DefaultCatalog().ResolveSpec(models.SummarizerModel, 0, 0)
	}
	if a.summarizerProvider == nil {
		a.summarizerProvider = a.provider
	}
	return a, nil
}

// Name возвращает имя агента.
func (a *Agent) Name() string { return a.name }

// Model возвращает модель агента.
func (a *Agent) Model() llm.ModelSpec { return a.model }

// Response - результат цикла: готовый ответ или стрим.
//
// Ровно одно из полей не nil, в зависимости от режима вызова.
type Response struct {
	Completion *llm.Completion
	Stream     llm.Stream
}

// Text возвращает текст ответа. Для стрима дочитывает его до конца.
func (r *Response) Text() (string, error) {
	if r.Stream != nil {
		return llm.Collect(r.Stream)
	}
	if r.Completion == nil {
		return "", nil
	}
	return r.Completion.Message.Content, nil
}

// directResponse оформляет результат функции как ответ модели.
func (a *Agent) directResponse(content string, stream bool) *Response {
	if stream {
		return &Response{Stream: llm.NewMessageStream(content)}
	}
	return &Response{Completion: &llm.Completion{
		Model:        a.model.Name,
		Message:      llm.NewTextMessage(llm.RoleAssistant, content),
		FinishReason: llm.FinishStop,
	}}
}
