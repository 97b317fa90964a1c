package agent

import (
	"context"
	"sync"

	"github.com/ilkoid/cortex/pkg/budget"
	"github.com/ilkoid/cortex/pkg/cache"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/memory"
	"github.com/ilkoid/cortex/pkg/tools"
)

// Context - состояние одного запроса к агенту.
//
// Живёт от начала до конца ChatCompletionLoop (включая все раунды),
// после чего вызывающий код читает Ledger для биллинга. Бюджет хранится
// снаружи и переживает Context.
//
// Rule 5: thread-safe. Параллельные ветки (ChatCompletionBranches) делят
// один Context: журнал, бюджет и стек вызовов у них общие.
type Context struct {
	id         string
	capability tools.Capability
	ledger     *ledger.Ledger
	budget     *budget.Tracker
	cache      *cache.Cache
	reporter   events.Reporter
	transcript memory.TranscriptStore

	mu        sync.RWMutex
	callStack []string
	called    map[string]struct{}
}

// ContextOption настраивает Context.
type ContextOption func(*Context)

// WithCapability задаёт маску возможностей разговора.
func WithCapability(c tools.Capability) ContextOption {
	return func(cc *Context) { cc.capability = c }
}

// WithCache включает семантический кэш результатов.
func WithCache(c *cache.Cache) ContextOption {
	return func(cc *Context) { cc.cache = c }
}

// WithReporter подключает индикацию прогресса.
func WithReporter(r events.Reporter) ContextOption {
	return func(cc *Context) { cc.reporter = r }
}

// WithTranscript включает сохранение транскрипта.
func WithTranscript(t memory.TranscriptStore) ContextOption {
	return func(cc *Context) { cc.transcript = t }
}

// WithLedger подставляет готовый журнал (например, общий на несколько запросов).
func WithLedger(l *ledger.Ledger) ContextOption {
	return func(cc *Context) { cc.ledger = l }
}

// NewContext создаёт Context для разговора. Бюджет обязателен:
// без него вызовы функций не ограничены ничем.
func NewContext(conversationID string, tracker *budget.Tracker, opts ...ContextOption) *Context {
	cc := &Context{
		id:         conversationID,
		capability: tools.CapabilityDefault,
		ledger:     ledger.New(),
		budget:     tracker,
		reporter:   events.Nop,
		called:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// ConversationID реализует tools.Conversation.
func (cc *Context) ConversationID() string { return cc.id }

// Ledger реализует tools.Conversation.
func (cc *Context) Ledger() *ledger.Ledger { return cc.ledger }

// Capability возвращает маску возможностей.
func (cc *Context) Capability() tools.Capability { return cc.capability }

// Called сообщает, вызывалась ли функция в этом запросе.
func (cc *Context) Called(name string) bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	_, ok := cc.called[name]
	return ok
}

// CallStack возвращает имена вызванных функций в порядке вызова.
func (cc *Context) CallStack() []string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return append([]string(nil), cc.callStack...)
}

// push добавляет функцию в стек вызовов. Стек только растёт.
func (cc *Context) push(name string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.callStack = append(cc.callStack, name)
	cc.called[name] = struct{}{}
}

func (cc *Context) report(ctx context.Context, message string, stage events.Stage) {
	if cc.reporter != nil {
		cc.reporter.Report(ctx, message, stage)
	}
}

var _ tools.Conversation = (*Context)(nil)
