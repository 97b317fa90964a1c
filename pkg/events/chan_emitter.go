package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// ChanEmitter - стандартная реализация Emitter через канал.
//
// Thread-safe. Emit никогда не блокирует: если буфер полон, событие
// отбрасывается и учитывается в Dropped. Прогресс важен для UI, но не
// настолько, чтобы ждать медленного читателя.
type ChanEmitter struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewChanEmitter создаёт новый ChanEmitter с буферизованным каналом.
//
// При buffer = 0 события доставляются только если читатель уже ждёт.
func NewChanEmitter(buffer int) *ChanEmitter {
	return &ChanEmitter{
		ch: make(chan Event, buffer),
	}
}

// Emit отправляет событие в канал без ожидания.
//
// Если канал закрыт, context отменён или буфер полон, событие теряется.
func (e *ChanEmitter) Emit(ctx context.Context, event Event) {
	// RLock держится до конца отправки, чтобы Close не закрыл канал под нами
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || ctx.Err() != nil {
		return
	}

	select {
	case e.ch <- event:
	default:
		e.dropped.Add(1)
	}
}

// Dropped возвращает число отброшенных событий.
func (e *ChanEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// Subscribe возвращает Subscriber для чтения событий.
//
// Можно вызвать несколько раз, подписчики делят один канал.
func (e *ChanEmitter) Subscribe() Subscriber {
	return &chanSubscriber{ch: e.ch}
}

// Close закрывает канал и освобождает ресурсы.
//
// Thread-safe. После закрытия Emit больше не отправляет события.
func (e *ChanEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

// chanSubscriber реализует Subscriber интерфейс.
type chanSubscriber struct {
	ch <-chan Event
}

// Events возвращает read-only канал событий.
func (s *chanSubscriber) Events() <-chan Event {
	return s.ch
}

// Close - no-op: канал общий, закрывается через ChanEmitter.Close().
func (s *chanSubscriber) Close() {}

var (
	_ Emitter    = (*ChanEmitter)(nil)
	_ Subscriber = (*chanSubscriber)(nil)
)
