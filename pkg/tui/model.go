// Package tui - интерактивный чат с агентом на Bubble Tea.
//
// Модель показывает индикацию прогресса цикла агента: вызовы функций
// (FunctionCalling) и начало ответа (ResponseStarting) приходят через
// events.ChanEmitter и рисуются в ленте чата. Бизнес-логики в пакете нет:
// запросы выполняет Runner.
//
// # Basic Usage
//
//	components, _ := app.Initialize(ctx, cfg)
//	err := tui.Run(ctx, components, tui.WithConversation("C42"))
//
// Rule 6: reusable library code, no app-specific logic.
// Rule 11: хранит context.Context для распространения отмены.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ilkoid/cortex/pkg/app"
	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/llm"
)

// Runner выполняет запрос к агенту. *app.Components реализует его.
//
// Rule 9: интерфейс позволяет подменить агента в тестах.
type Runner interface {
	Execute(ctx context.Context, req app.Request) (*app.ExecutionResult, error)
}

// Config настраивает Model. Все поля опциональны.
type Config struct {
	Title          string
	ConversationID string
	ModelName      string
	Colors         ColorScheme
	Prompt         string
	Stream         bool
	Timeout        time.Duration // 0 = 5 минут
	Budget         int           // вызовов функций на каждое сообщение
}

const (
	defaultTimeout = 5 * time.Minute
	inputHeight    = 3
)

// eventMsg - событие агента внутри Bubble Tea.
type eventMsg events.Event

// resultMsg - завершение запроса.
type resultMsg struct {
	res *app.ExecutionResult
	err error
}

// Model - Bubble Tea модель чата.
type Model struct {
	ctx     context.Context
	runner  Runner
	cfg     Config
	emitter *events.ChanEmitter
	sub     events.Subscriber

	history []llm.Message

	log     *chatLog
	input   textarea.Model
	spinner spinner.Model
	help    help.Model
	keys    KeyMap
	st      styles

	busy      bool
	cancel    context.CancelFunc
	last      *app.ExecutionResult
	totalCost float64
	width     int
}

// NewModel создаёт модель. emitter - канал прогресса цикла агента.
func NewModel(ctx context.Context, runner Runner, emitter *events.ChanEmitter, cfg Config) *Model {
	if cfg.Title == "" {
		cfg.Title = "Cortex"
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = fmt.Sprintf("tui-%d", time.Now().Unix())
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "┃ "
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Colors == (ColorScheme{}) {
		cfg.Colors = DefaultColorScheme()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.Prompt = cfg.Prompt
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	st := newStyles(cfg.Colors)
	sp.Style = st.ai.Foreground(cfg.Colors.Spinner)

	m := &Model{
		ctx:     ctx,
		runner:  runner,
		cfg:     cfg,
		emitter: emitter,
		sub:     emitter.Subscribe(),
		log:     newChatLog(),
		input:   ta,
		spinner: sp,
		help:    help.New(),
		keys:    DefaultKeyMap(),
		st:      st,
	}
	m.log.add(st.system.Render(fmt.Sprintf("Conversation %s. Type a question and press Enter.", cfg.ConversationID)))
	return m
}

// Init реализует tea.Model интерфейс.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForEvent(m.sub))
}

// waitForEvent ждёт следующее событие агента.
func waitForEvent(sub events.Subscriber) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-sub.Events()
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// Update реализует tea.Model интерфейс.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.SetWidth(msg.Width)
		m.help.Width = msg.Width
		// статус + 2 разделителя + ввод + помощь
		m.log.resize(msg.Width, msg.Height-1-2-inputHeight-1)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, waitForEvent(m.sub)

	case resultMsg:
		m.finish(msg.res, msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.busy && m.cancel != nil {
			m.cancel()
			m.log.add(m.st.system.Render("Cancelling..."))
		}
		return m, nil

	case key.Matches(msg, m.keys.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.ShowLedger):
		m.showLedger()
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.log.viewport.ScrollUp(max(1, m.log.viewport.Height/2))
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.log.viewport.ScrollDown(max(1, m.log.viewport.Height/2))
		return m, nil

	case key.Matches(msg, m.keys.ConfirmInput):
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit отправляет введённый вопрос агенту.
func (m *Model) submit() tea.Cmd {
	query := strings.TrimSpace(m.input.Value())
	if query == "" || m.busy {
		return nil
	}
	m.input.Reset()

	m.log.add(m.st.user.Render("You: ") + query)
	m.history = append(m.history, llm.NewTextMessage(llm.RoleUser, query))
	m.busy = true

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.Timeout)
	m.cancel = cancel
	return tea.Batch(m.run(ctx), m.spinner.Tick)
}

// run выполняет запрос вне цикла Bubble Tea.
func (m *Model) run(ctx context.Context) tea.Cmd {
	req := app.Request{
		ConversationID: m.cfg.ConversationID,
		Messages:       append([]llm.Message(nil), m.history...),
		Reporter:       events.NewEmitterReporter(m.emitter),
		Budget:         m.cfg.Budget,
	}
	if m.cfg.Stream {
		emitter := m.emitter
		req.OnChunk = func(s string) {
			emitter.Emit(ctx, events.Event{
				Type:      events.EventMessage,
				Data:      events.MessageData{Content: s},
				Timestamp: time.Now(),
			})
		}
	}
	runner := m.runner

	return func() tea.Msg {
		res, err := runner.Execute(ctx, req)
		return resultMsg{res: res, err: err}
	}
}

// handleEvent рисует прогресс цикла агента.
func (m *Model) handleEvent(e events.Event) {
	switch data := e.Data.(type) {
	case events.ProgressData:
		if data.Stage != events.StageFunctionCalling {
			return
		}
		desc, call, found := strings.Cut(data.Message, "\n")
		if !found {
			m.log.add(m.st.call.Render("→ " + data.Message))
			return
		}
		m.log.add(m.st.desc.Render(strings.TrimPrefix(desc, "# ")) + "\n" + m.st.call.Render("→ "+call))

	case events.MessageData:
		// Фрагменты после завершения запроса уже учтены в ответе
		if !m.busy {
			return
		}
		m.log.stream(m.st.ai.Render("Agent: "), data.Content)

	case events.ErrorData:
		m.log.add(m.st.err.Render("Error: ") + data.Err.Error())
	}
}

// finish показывает результат запроса.
func (m *Model) finish(res *app.ExecutionResult, err error) {
	m.busy = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if res != nil {
		m.last = res
		m.totalCost += res.Cost
	}

	if err != nil {
		m.log.closeStream("")
		// Вопрос без ответа убираем из истории, чтобы его можно было повторить
		m.history = m.history[:len(m.history)-1]
		m.log.add(m.st.err.Render("Error: ") + describeError(err))
		return
	}

	answer := m.st.ai.Render("Agent: ") + res.Response
	if !m.log.closeStream(answer) {
		m.log.add(answer)
	}
	m.history = append(m.history, llm.NewTextMessage(llm.RoleAssistant, res.Response))
}

// describeError переводит ошибку цикла в сообщение для пользователя.
func describeError(err error) string {
	switch errkind.Of(err) {
	case errkind.KindInsufficientBudget:
		return "the function call budget of this conversation is exhausted"
	case errkind.KindRetryable:
		cause := err
		var re *errkind.RetryableError
		if errors.As(err, &re) && re.Err != nil {
			cause = re.Err
		}
		return "temporary failure, try again: " + cause.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request cancelled"
	}
	return err.Error()
}

// showLedger выводит расход токенов последнего запроса.
func (m *Model) showLedger() {
	if m.last == nil {
		m.log.add(m.st.system.Render("No requests yet."))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last request: %s, cost $%.4f", m.last.Duration.Round(time.Millisecond), m.last.Cost)
	if len(m.last.Calls) > 0 {
		fmt.Fprintf(&b, ", calls: %s", strings.Join(m.last.Calls, ", "))
	}
	l := m.last.Ledger
	for _, model := range l.Models() {
		fmt.Fprintf(&b, "\n  %s: prompt=%d completion=%d embedding=%d",
			model, l.PromptTokens[model], l.CompletionTokens[model], l.EmbeddingTokens[model])
	}
	m.log.add(m.st.system.Render(b.String()))
}

// View реализует tea.Model интерфейс.
func (m *Model) View() string {
	divider := m.st.border.Render(strings.Repeat("─", max(m.width, 1)))
	return strings.Join([]string{
		m.renderStatus(),
		divider,
		m.log.viewport.View(),
		divider,
		m.input.View(),
		m.help.View(m.keys),
	}, "\n")
}

func (m *Model) renderStatus() string {
	state := "✓ Ready"
	if m.busy {
		state = m.spinner.View() + " Working"
	}
	model := m.cfg.ModelName
	if model == "" {
		model = "N/A"
	}
	return m.st.status.Render(fmt.Sprintf("%s | %s | Model: %s | Cost: $%.4f | %s",
		m.cfg.Title, m.cfg.ConversationID, model, m.totalCost, state))
}
