// Определения функций, доступных модели, и их результатов.

package tools

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/llm"
)

// NamePattern - допустимое имя функции в Function Calling API.
const NamePattern = `^[a-zA-Z0-9_-]{1,64}$`

var nameRe = regexp.MustCompile(NamePattern)

// ValidName сообщает, подходит ли имя под NamePattern.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// JSONSchema представляет JSON Schema для параметров функции.
//
// Формат соответствует JSON Schema specification для Function Calling API.
type JSONSchema map[string]any

// Capability - битовая маска возможностей.
//
// Функция видна модели, только если её маска пересекается с маской разговора.
type Capability uint32

const (
	CapabilityDefault  Capability = 1 << 0
	CapabilityInternal Capability = 1 << 1
	CapabilityAll      Capability = 1<<31 - 1
)

// Allows сообщает, пересекаются ли маски.
func (c Capability) Allows(required Capability) bool {
	return c&required != 0
}

// CachePolicy - правила семантического кэша для функции.
type CachePolicy struct {
	Enabled bool
	// SimilarityThreshold в [0,1]: 1.0 для точных функций ("открой этот URL"),
	// ниже для нечётких ("найди информацию про X").
	SimilarityThreshold float64
	TTL                 time.Duration
}

// DefaultCachePolicy - кэш выключен, порог 0.9, срок 7 дней.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{SimilarityThreshold: 0.9, TTL: 7 * 24 * time.Hour}
}

// FunctionResult - результат вызова функции.
type FunctionResult struct {
	// Instruction - подсказка модели для следующего хода, может быть пустой.
	Instruction string
	Response    string
}

// String рендерит результат в текст tool-сообщения.
func (r FunctionResult) String() string {
	if r.Instruction == "" {
		return r.Response
	}
	return fmt.Sprintf("### Instruction\n%s\n\n### Response\n%s", r.Instruction, r.Response)
}

// Conversation - то, что функция может узнать о разговоре, в котором её вызвали.
type Conversation interface {
	ConversationID() string
	Ledger() *ledger.Ledger
}

// Handler - реализация функции.
//
// args уже отфильтрованы по схеме параметров, обязательные ключи присутствуют.
// Временные сбои внешних сервисов возвращаются как errkind.RetryableError.
type Handler func(ctx context.Context, conv Conversation, args Arguments) (FunctionResult, error)

// FunctionDefinition описывает функцию при регистрации.
type FunctionDefinition struct {
	Name        string
	Description string
	Strict      bool
	Parameters  JSONSchema
	Handler     Handler

	Cache      CachePolicy
	Capability Capability // 0 = CapabilityDefault

	// Dependencies - имена функций, хотя бы одна из которых должна быть
	// вызвана раньше. Пустой список - функция доступна всегда.
	Dependencies []string

	// DirectReturn: если это единственный вызов за ход, результат
	// становится финальным ответом без ещё одного обращения к модели.
	DirectReturn bool

	// Budget - сколько единиц бюджета списывается за вызов; 0 = 1.
	Budget int
}

// Function - зарегистрированная функция. Неизменяема после Build.
type Function struct {
	def  FunctionDefinition
	deps []*Function
}

// Name возвращает имя функции.
func (f *Function) Name() string { return f.def.Name }

// Description возвращает описание функции.
func (f *Function) Description() string { return f.def.Description }

// Parameters возвращает схему параметров.
func (f *Function) Parameters() JSONSchema { return f.def.Parameters }

// Cache возвращает политику кэша.
func (f *Function) Cache() CachePolicy { return f.def.Cache }

// Capability возвращает требуемую маску.
func (f *Function) Capability() Capability { return f.def.Capability }

// DirectReturn сообщает, возвращается ли результат напрямую.
func (f *Function) DirectReturn() bool { return f.def.DirectReturn }

// Budget возвращает стоимость вызова.
func (f *Function) Budget() int { return f.def.Budget }

// Dependencies возвращает функции, открывающие доступ к этой.
func (f *Function) Dependencies() []*Function { return f.deps }

// Call вызывает реализацию.
func (f *Function) Call(ctx context.Context, conv Conversation, args Arguments) (FunctionResult, error) {
	return f.def.Handler(ctx, conv, args)
}

// Unlocked сообщает, открыта ли функция при данном стеке вызовов.
func (f *Function) Unlocked(called func(name string) bool) bool {
	if len(f.deps) == 0 {
		return true
	}
	for _, d := range f.deps {
		if called(d.Name()) {
			return true
		}
	}
	return false
}

// ToolDefinition возвращает описание функции для модели.
func (f *Function) ToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        f.def.Name,
		Description: f.def.Description,
		Strict:      f.def.Strict,
		Parameters:  f.def.Parameters,
	}
}
