// Package llm предоставляет типы и интерфейсы для работы с LLM провайдерами.
//
// Этот файл содержит сборку вызовов функций из стриминговых чанков и
// вспомогательные реализации Stream.
package llm

import (
	"io"
	"sort"
	"sync"
)

// ToolCallState - состояние сборки одного вызова функции из чанков.
type ToolCallState int

const (
	// ToolCallEmpty - по индексу ещё ничего не пришло.
	ToolCallEmpty ToolCallState = iota
	// ToolCallAccumulatingName - пришёл ID/имя, аргументов ещё нет.
	ToolCallAccumulatingName
	// ToolCallAccumulatingArguments - идут фрагменты аргументов.
	ToolCallAccumulatingArguments
	// ToolCallComplete - стрим завершён, вызов собран.
	ToolCallComplete
)

// String возвращает имя состояния для логов.
func (s ToolCallState) String() string {
	switch s {
	case ToolCallAccumulatingName:
		return "accumulating_name"
	case ToolCallAccumulatingArguments:
		return "accumulating_arguments"
	case ToolCallComplete:
		return "complete"
	default:
		return "empty"
	}
}

type partialToolCall struct {
	state ToolCallState
	call  ToolCall
}

// feed применяет фрагмент к частичному вызову.
//
// Имя может приходить частями, пока не начались аргументы.
// После Complete фрагменты игнорируются.
func (p *partialToolCall) feed(d ToolCallDelta) {
	if p.state == ToolCallComplete {
		return
	}
	if d.ID != "" {
		p.call.ID = d.ID
	}
	if d.Type != "" {
		p.call.Type = d.Type
	}
	if d.Name != "" && p.state != ToolCallAccumulatingArguments {
		p.call.Name += d.Name
	}
	if p.state == ToolCallEmpty && (d.ID != "" || d.Name != "") {
		p.state = ToolCallAccumulatingName
	}
	if d.Arguments != "" {
		p.call.Arguments += d.Arguments
		p.state = ToolCallAccumulatingArguments
	}
}

// ToolCallAccumulator собирает вызовы функций из стриминговых чанков.
//
// Фрагменты сливаются по Index. Каждый вызов проходит состояния
// Empty → AccumulatingName → AccumulatingArguments → Complete.
type ToolCallAccumulator struct {
	calls map[int]*partialToolCall
}

// NewToolCallAccumulator создаёт пустой аккумулятор.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*partialToolCall)}
}

// Add применяет фрагменты из одного чанка.
func (a *ToolCallAccumulator) Add(deltas []ToolCallDelta) {
	for _, d := range deltas {
		p, ok := a.calls[d.Index]
		if !ok {
			p = &partialToolCall{}
			a.calls[d.Index] = p
		}
		p.feed(d)
	}
}

// State возвращает состояние вызова по индексу.
func (a *ToolCallAccumulator) State(index int) ToolCallState {
	if p, ok := a.calls[index]; ok {
		return p.state
	}
	return ToolCallEmpty
}

// Len возвращает число начатых вызовов.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Finish переводит все вызовы в Complete и возвращает их в порядке индексов.
// Вызовы без ID и имени отбрасываются.
func (a *ToolCallAccumulator) Finish() []ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	result := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		p := a.calls[i]
		if p.state == ToolCallEmpty {
			continue
		}
		p.state = ToolCallComplete
		if p.call.Type == "" {
			p.call.Type = "function"
		}
		result = append(result, p.call)
	}
	return result
}

// ReplayStream сначала отдаёт уже прочитанные чанки, затем продолжает
// читать исходный стрим. Используется когда цикл агента заглянул в стрим,
// увидел обычный ответ и возвращает его вызывающему коду нетронутым.
type ReplayStream struct {
	mu       sync.Mutex
	buffered []CompletionChunk
	rest     Stream
	done     bool
}

// NewReplayStream создаёт ReplayStream. rest может быть nil если исходный
// стрим уже дочитан до конца.
func NewReplayStream(buffered []CompletionChunk, rest Stream) *ReplayStream {
	return &ReplayStream{buffered: buffered, rest: rest}
}

// Recv реализует Stream.
func (s *ReplayStream) Recv() (CompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffered) > 0 {
		c := s.buffered[0]
		s.buffered = s.buffered[1:]
		return c, nil
	}
	if s.rest == nil || s.done {
		return CompletionChunk{}, io.EOF
	}
	c, err := s.rest.Recv()
	if err == io.EOF {
		s.done = true
	}
	return c, err
}

// Close реализует Stream.
func (s *ReplayStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.buffered = nil
	if s.rest != nil {
		return s.rest.Close()
	}
	return nil
}

// SliceStream - стрим поверх готового списка чанков.
type SliceStream struct {
	mu     sync.Mutex
	chunks []CompletionChunk
	closed bool
}

// NewSliceStream создаёт стрим из чанков.
func NewSliceStream(chunks ...CompletionChunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// NewMessageStream создаёт стрим из одного чанка с готовым ответом ассистента.
func NewMessageStream(content string) *SliceStream {
	return NewSliceStream(CompletionChunk{
		Role:         RoleAssistant,
		Content:      content,
		FinishReason: FinishStop,
	})
}

// Recv реализует Stream.
func (s *SliceStream) Recv() (CompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.chunks) == 0 {
		return CompletionChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// Close реализует Stream.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Collect дочитывает стрим и склеивает контент. Удобно для CLI и тестов.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var content []byte
	for {
		c, err := s.Recv()
		if err == io.EOF {
			return string(content), nil
		}
		if err != nil {
			return string(content), err
		}
		content = append(content, c.Content...)
	}
}

var (
	_ Stream = (*ReplayStream)(nil)
	_ Stream = (*SliceStream)(nil)
)
