package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/utils"
)

// eventBuffer - ёмкость канала прогресса. Фрагменты стрима, не влезшие
// в буфер, теряются: финальный ответ всё равно заменяет стрим целиком.
const eventBuffer = 256

// Run запускает TUI чата поверх runner.
//
// Создаёт emitter, передаёт его в каждый запрос как Reporter и
// запускает Bubble Tea программу в альтернативном экране.
//
// Правило 11: принимает и распространяет context.Context.
//
// Пример:
//
//	components, _ := app.Initialize(ctx, cfg)
//	err := tui.Run(ctx, components,
//	    tui.WithTitle("Cortex"),
//	    tui.WithStreaming(true),
//	)
func Run(ctx context.Context, runner Runner, opts ...Option) error {
	if runner == nil {
		return fmt.Errorf("runner is nil")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	emitter := events.NewChanEmitter(eventBuffer)
	defer func() {
		emitter.Close()
		if n := emitter.Dropped(); n > 0 {
			utils.Debug("TUI events dropped", "count", n)
		}
	}()

	model := NewModel(ctx, runner, emitter, cfg)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		// Завершение по сигналу - штатный выход
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// Option - функция для кастомизации TUI.
type Option func(*Config)

// WithTitle устанавливает заголовок в статусной строке.
func WithTitle(title string) Option {
	return func(c *Config) { c.Title = title }
}

// WithConversation задаёт идентификатор разговора. От него зависят
// бюджет вызовов, кеш и выбор агента балансировщиком.
func WithConversation(id string) Option {
	return func(c *Config) { c.ConversationID = id }
}

// WithModelName показывает имя модели в статусной строке.
func WithModelName(name string) Option {
	return func(c *Config) { c.ModelName = name }
}

// WithColorScheme устанавливает цветовую схему.
func WithColorScheme(scheme ColorScheme) Option {
	return func(c *Config) { c.Colors = scheme }
}

// WithPrompt устанавливает текст приглашения ввода.
func WithPrompt(prompt string) Option {
	return func(c *Config) { c.Prompt = prompt }
}

// WithStreaming включает вывод ответа по мере генерации.
func WithStreaming(on bool) Option {
	return func(c *Config) { c.Stream = on }
}

// WithTimeout устанавливает таймаут для выполнения запросов агента.
//
// По умолчанию используется 5 минут.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithBudget задаёт бюджет вызовов функций, который выдаётся разговору
// перед каждым сообщением пользователя.
func WithBudget(n int) Option {
	return func(c *Config) { c.Budget = n }
}
