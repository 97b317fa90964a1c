package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ilkoid/cortex/pkg/agent"
	"github.com/ilkoid/cortex/pkg/debug"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/utils"
)

// maxTraceResponse - сколько байт ответа попадает в трейс.
const maxTraceResponse = 16 << 10

// Request - один запрос пользователя к агенту.
type Request struct {
	ConversationID string
	Messages       []llm.Message

	// Reporter получает FunctionCalling/ResponseStarting. nil = без индикации.
	Reporter events.Reporter

	// OnChunk включает стриминг: вызывается для каждого фрагмента ответа.
	OnChunk func(content string)

	// Budget > 0 выдаёт разговору столько вызовов функций перед запуском
	// цикла. 0 оставляет текущий остаток как есть.
	Budget int
}

// ExecutionResult содержит результаты выполнения запроса.
//
// Используется для отделения логики вывода от логики выполнения,
// что позволяет переиспользовать код в TUI с собственным рендерингом.
type ExecutionResult struct {
	Response      string
	Calls         []string // функции в порядке вызова
	Ledger        ledger.Snapshot
	Cost          float64
	UnknownModels []string // модели без цены в справочнике
	Duration      time.Duration
	State         *ConversationState
}

// ConversationState - накопленное состояние разговора в Brain.
type ConversationState struct {
	ConversationID string    `json:"conversation_id"`
	Runs           int       `json:"runs"`
	TotalCost      float64   `json:"total_cost"`
	LastAnswer     string    `json:"last_answer"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Execute выполняет запрос через ChatCompletionLoop.
//
// Журнал токенов возвращается и при ошибке: потраченное надо учесть.
// Правило 4: работает только через llm.Provider интерфейс.
func (c *Components) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	start := time.Now()

	a, err := c.Agent(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if req.Budget > 0 {
		if err := c.AcquireBudget(ctx, req.ConversationID, req.Budget); err != nil {
			return nil, err
		}
	}

	reporter := req.Reporter
	rec := c.newRecorder(req, a.Model().Name)
	if rec != nil {
		reporter = rec.Wrap(reporter)
	}
	cc := c.NewContext(req.ConversationID, reporter)

	utils.Info("Executing request",
		"conversation_id", req.ConversationID,
		"messages", len(req.Messages),
		"model", a.Model().Name,
		"stream", req.OnChunk != nil)

	result := &ExecutionResult{}
	finish := func() {
		result.Calls = cc.CallStack()
		result.Ledger = cc.Ledger().Snapshot()
		result.Cost, result.UnknownModels = result.Ledger.Cost(c.Catalog)
		result.Duration = time.Since(start)
	}
	defer func() {
		if rec != nil {
			saveTrace(rec, result, err)
		}
	}()

	var resp *agent.Response
	resp, err = a.ChatCompletionLoop(ctx, req.Messages, cc, req.OnChunk != nil)
	if err != nil {
		finish()
		utils.Error("Agent loop failed", "conversation_id", req.ConversationID, "error", err)
		return result, err
	}

	if req.OnChunk != nil && resp.Stream != nil {
		result.Response, err = drain(resp.Stream, req.OnChunk)
	} else {
		result.Response, err = resp.Text()
	}
	finish()
	if err != nil {
		return result, fmt.Errorf("read response: %w", err)
	}

	result.State = c.recordState(ctx, req.ConversationID, result)

	utils.Info("Request executed",
		"conversation_id", req.ConversationID,
		"calls", len(result.Calls),
		"cost", result.Cost,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// newRecorder создаёт запись трейса, если задан app.trace_dir.
func (c *Components) newRecorder(req Request, model string) *debug.Recorder {
	dir := c.Config.App.TraceDir
	if dir == "" {
		return nil
	}
	rec, err := debug.NewRecorder(debug.RecorderConfig{LogsDir: dir, MaxResponseSize: maxTraceResponse},
		req.ConversationID, model, len(req.Messages))
	if err != nil {
		utils.Warn("Trace recorder disabled", "dir", dir, "error", err)
		return nil
	}
	return rec
}

// saveTrace сохраняет трейс. Ошибки только логируются.
func saveTrace(rec *debug.Recorder, result *ExecutionResult, err error) {
	path, saveErr := rec.Finalize(debug.Outcome{
		Calls:    result.Calls,
		Ledger:   result.Ledger,
		Cost:     result.Cost,
		Response: result.Response,
		Err:      err,
	})
	if saveErr != nil {
		utils.Warn("Trace save failed", "run_id", rec.RunID(), "error", saveErr)
		return
	}
	utils.Debug("Trace saved", "path", path)
}

// drain дочитывает стрим, отдавая фрагменты в onChunk.
func drain(s llm.Stream, onChunk func(string)) (string, error) {
	defer s.Close()

	var text []byte
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(text), nil
		}
		if err != nil {
			return string(text), err
		}
		if chunk.Content != "" {
			text = append(text, chunk.Content...)
			onChunk(chunk.Content)
		}
	}
}

func stateKey(conversationID string) string {
	return "conversations/" + conversationID + ".json"
}

// LoadState читает состояние разговора из Brain. nil, nil если хранилище
// не настроено или состояния ещё нет.
func (c *Components) LoadState(ctx context.Context, conversationID string) (*ConversationState, error) {
	if c.Brain == nil {
		return nil, nil
	}
	data, err := c.Brain.Restore(ctx, stateKey(conversationID))
	if err != nil || data == nil {
		return nil, err
	}

	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	return &st, nil
}

// recordState дописывает результат запроса в Brain. Ошибки только
// логируются: ответ пользователю важнее учёта.
func (c *Components) recordState(ctx context.Context, conversationID string, result *ExecutionResult) *ConversationState {
	if c.Brain == nil {
		return nil
	}

	st, err := c.LoadState(ctx, conversationID)
	if err != nil {
		utils.Warn("Conversation state restore failed", "conversation_id", conversationID, "error", err)
	}
	if st == nil {
		st = &ConversationState{ConversationID: conversationID}
	}
	st.Runs++
	st.TotalCost += result.Cost
	st.LastAnswer = result.Response
	st.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		utils.Warn("Conversation state encode failed", "error", err)
		return st
	}
	if err := c.Brain.Save(ctx, stateKey(conversationID), data); err != nil {
		utils.Warn("Conversation state save failed", "conversation_id", conversationID, "error", err)
	}
	return st
}

// UserMessage собирает сообщение пользователя. Картинка уменьшается до
// лимита модели и прикладывается как data-uri.
func (c *Components) UserMessage(conversationID, text string, image []byte) (llm.Message, error) {
	if len(image) == 0 {
		return llm.NewTextMessage(llm.RoleUser, text), nil
	}

	a, err := c.Agent(conversationID)
	if err != nil {
		return llm.Message{}, err
	}
	limit := a.Model().ImageSizeLimit
	if limit == 0 {
		return llm.Message{}, fmt.Errorf("model %s does not accept images", a.Model().Name)
	}

	quality := c.Config.ImageProcessing.Quality
	fitted, err := utils.FitImage(image, limit, quality)
	if err != nil {
		return llm.Message{}, fmt.Errorf("prepare image: %w", err)
	}

	return llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			{Type: llm.TypeText, Text: text},
			{Type: llm.TypeImage, ImageURL: utils.JPEGDataURI(fitted)},
		},
	}, nil
}
