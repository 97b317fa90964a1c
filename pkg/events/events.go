// Package events предоставляет интерфейсы для реализации Port & Adapter паттерна.
//
// Это Port (интерфейс) для подписки на события от AI агента.
// Позволяет подключать любые UI (TUI, CLI) без изменения библиотечной логики.
//
// # Port & Adapter Pattern
//
//	Port - это интерфейсы Reporter, Emitter и Subscriber.
//	Adapter - это реализация интерфейса для конкретного UI.
//
// # Basic Usage
//
//	emitter := events.NewChanEmitter(64)
//	cc := agent.NewContext(..., agent.WithReporter(events.NewEmitterReporter(emitter)))
//
//	// В UI:
//	for event := range emitter.Subscribe().Events() {
//	    switch event.Type {
//	    case events.EventFunctionCalling:
//	        ui.showCall(event.Data.(events.ProgressData).Message)
//	    case events.EventResponseStarting:
//	        ui.stopSpinner()
//	    }
//	}
//
// # Thread Safety
//
// Все реализации интерфейсов должны быть thread-safe.
//
// # Rule 11: Context Propagation
//
// Emit и Report принимают context.Context.
package events

import (
	"context"
	"time"
)

// EventType представляет тип события от агента.
type EventType string

const (
	// EventFunctionCalling отправляется перед вызовом функции.
	EventFunctionCalling EventType = "function_calling"

	// EventResponseStarting отправляется когда модель начала финальный ответ.
	EventResponseStarting EventType = "response_starting"

	// EventMessage отправляется когда агент сгенерировал сообщение.
	EventMessage EventType = "message"

	// EventError отправляется при ошибке.
	EventError EventType = "error"

	// EventDone отправляется когда агент завершил работу.
	EventDone EventType = "done"
)

// Stage - стадия хода агента для индикации прогресса.
type Stage int

const (
	StageFunctionCalling Stage = iota
	StageResponseStarting
)

// String возвращает имя стадии для логов.
func (s Stage) String() string {
	if s == StageResponseStarting {
		return "response_starting"
	}
	return "function_calling"
}

// EventType возвращает тип события для стадии.
func (s Stage) EventType() EventType {
	if s == StageResponseStarting {
		return EventResponseStarting
	}
	return EventFunctionCalling
}

// EventData - sealed interface для данных события.
//
// Только типы из пакета events могут реализовать этот интерфейс,
// что обеспечивает compile-time type safety.
type EventData interface {
	eventData()
}

// ProgressData содержит данные для EventFunctionCalling и EventResponseStarting.
type ProgressData struct {
	Message string
	Stage   Stage
}

func (ProgressData) eventData() {}

// MessageData содержит данные для EventMessage и EventDone.
type MessageData struct {
	Content string
}

func (MessageData) eventData() {}

// ErrorData содержит данные для EventError.
type ErrorData struct {
	Err error
}

func (ErrorData) eventData() {}

// Event представляет событие от агента.
type Event struct {
	Type      EventType
	Data      EventData
	Timestamp time.Time
}

// Emitter - это Port для отправки событий.
//
// Emitter инвертирует зависимость: библиотека (pkg/agent) зависит
// от этого интерфейса, а не от конкретного UI.
type Emitter interface {
	// Emit отправляет событие. Не должен надолго блокировать вызывающего.
	Emit(ctx context.Context, event Event)
}

// Subscriber позволяет читать события из канала.
//
// Rule 5: thread-safe операции.
type Subscriber interface {
	// Events возвращает read-only канал событий.
	Events() <-chan Event

	// Close закрывает подписчика.
	Close()
}

// Reporter - то, что видит цикл агента: сообщение и стадия.
//
// Реализации не должны блокировать цикл.
type Reporter interface {
	Report(ctx context.Context, message string, stage Stage)
}

// ReporterFunc позволяет использовать функцию как Reporter.
type ReporterFunc func(ctx context.Context, message string, stage Stage)

// Report реализует Reporter.
func (f ReporterFunc) Report(ctx context.Context, message string, stage Stage) {
	f(ctx, message, stage)
}

// Nop - Reporter, который ничего не делает.
var Nop Reporter = ReporterFunc(func(context.Context, string, Stage) {})

// EmitterReporter превращает Emitter в Reporter.
type EmitterReporter struct {
	emitter Emitter
	now     func() time.Time
}

// NewEmitterReporter создаёт адаптер.
func NewEmitterReporter(e Emitter) *EmitterReporter {
	return &EmitterReporter{emitter: e, now: time.Now}
}

// Report реализует Reporter.
func (r *EmitterReporter) Report(ctx context.Context, message string, stage Stage) {
	r.emitter.Emit(ctx, Event{
		Type:      stage.EventType(),
		Data:      ProgressData{Message: message, Stage: stage},
		Timestamp: r.now(),
	})
}

var _ Reporter = (*EmitterReporter)(nil)
