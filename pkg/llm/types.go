// Базовые типы - универсальный язык общения с моделями.
package llm

import (
	"bytes"
	"encoding/json"
)

// Role - роль автора сообщения.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Типы частей мультимодального сообщения.
const (
	TypeText  = "text"
	TypeImage = "image_url"
)

// ContentPart - часть сообщения (текст или картинка).
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // data-uri или http ссылка
}

// Message - одно сообщение транскрипта.
//
// Content используется для обычного текста, Parts - для мультимодальных
// сообщений (Vision). Для tool-сообщений заполняются ToolCallID и Name.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ToolCall - запрос модели на вызов функции.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // сырой JSON от модели
}

// ToolDefinition описывает функцию для модели (Function Calling API format).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Strict      bool           `json:"strict"`
	Parameters  map[string]any `json:"parameters"`
}

// FinishReason - причина завершения генерации.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishNone          FinishReason = ""
)

// Usage - расход токенов, сообщённый провайдером.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion - нестриминговый ответ модели (choices[0]).
type Completion struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// ToolCallDelta - фрагмент вызова функции в стриминговом чанке.
//
// Провайдер присылает ID и Name в первом фрагменте, затем Arguments
// частями. Фрагменты сливаются по Index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// CompletionChunk - одна порция стримингового ответа (choices[0].delta).
type CompletionChunk struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Role         Role            `json:"role,omitempty"`
	Content      string          `json:"content,omitempty"`
	Refusal      string          `json:"refusal,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// HasContent сообщает, что в чанке начался обычный ответ модели.
// Такой ответ уже не является вызовом функций.
func (c CompletionChunk) HasContent() bool {
	return c.Content != "" || c.Refusal != ""
}

// NewTextMessage создаёт простое текстовое сообщение.
func NewTextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// StripImages возвращает копию сообщения без image_url частей.
// Картинки токенизируются не так как текст, поэтому при подсчёте
// токенов промпта они исключаются.
func (m Message) StripImages() Message {
	if len(m.Parts) == 0 {
		return m
	}
	out := m
	out.Parts = make([]ContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == TypeImage {
			continue
		}
		out.Parts = append(out.Parts, p)
	}
	return out
}

// CompactJSON сериализует значение в компактный JSON без экранирования HTML.
func CompactJSON(v any) string {
	b, err := marshalNoEscape(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder добавляет перевод строки в конце
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
