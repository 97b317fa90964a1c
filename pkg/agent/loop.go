package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/summarizer"
	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/utils"
)

// SummaryPrompt оборачивает резюме истории разговора.
const SummaryPrompt = "Below is a summary of our conversation so far.\nPlease continue the conversation based on it.\n---\n%s\n---"

// ChatCompletionLoop ведёт разговор до финального ответа.
//
// Каждый раунд - ровно один запрос к модели. Цикл заканчивается, когда
// модель отвечает без вызовов функций, когда единственный вызов раунда
// помечен DirectReturn, или с ошибкой. Нехватка бюджета прерывает весь
// цикл (errkind.ErrInsufficientBudget). Временные сбои провайдера
// возвращаются как errkind.RetryableError: повторяет вызывающий код.
//
// В режиме stream ответ возвращается стримом, как только в нём появился
// обычный текст.
//
// Rule 11: ctx отменяет запросы к модели и выполнение функций.
func (a *Agent) ChatCompletionLoop(ctx context.Context, messages []llm.Message, cc *Context, stream bool) (*Response, error) {
	msgs := make([]llm.Message, 0, len(messages)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, llm.NewTextMessage(llm.RoleSystem, a.systemPrompt))
	}
	msgs = append(msgs, messages...)

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, next, err := a.round(ctx, msgs, cc, stream)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			utils.Debug("Agent loop completed", "conversation_id", cc.ConversationID(), "rounds", round)
			return resp, nil
		}
		msgs = next
	}
}

// ChatCompletionBranches запускает n независимых циклов над копиями
// транскрипта. Ветки делят Context: журнал, бюджет и стек вызовов общие,
// поэтому порядок списания бюджета между ветками не детерминирован.
//
// Первая ошибка любой ветки возвращается после завершения всех веток;
// стримы успешных веток при этом закрываются.
func (a *Agent) ChatCompletionBranches(ctx context.Context, messages []llm.Message, cc *Context, n int, stream bool) ([]*Response, error) {
	if n < 1 {
		return nil, fmt.Errorf("branches must be positive, got %d", n)
	}

	// errgroup без WithContext: контекст группы отменился бы после Wait,
	// а стримы веток должны жить дальше.
	var g errgroup.Group
	out := make([]*Response, n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			branch := append([]llm.Message(nil), messages...)
			resp, err := a.ChatCompletionLoop(ctx, branch, cc, stream)
			out[i] = resp
			return err
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range out {
			if r != nil && r.Stream != nil {
				r.Stream.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

// round выполняет один раунд. Возвращает либо финальный ответ, либо
// продолженный транскрипт для следующего раунда.
func (a *Agent) round(ctx context.Context, msgs []llm.Message, cc *Context, stream bool) (*Response, []llm.Message, error) {
	visible := a.registry.Visible(cc.Capability(), cc.Called)
	defs := make([]llm.ToolDefinition, 0, len(visible))
	for _, f := range visible {
		defs = append(defs, f.ToolDefinition())
	}

	promptTokens := a.promptTokens(msgs, defs)
	if promptTokens > a.model.MaxTokens && a.summarizeHistory && len(msgs) > 1 {
		var err error
		if msgs, err = a.summarizeTranscript(ctx, msgs, cc); err != nil {
			return nil, nil, err
		}
		promptTokens = a.promptTokens(msgs, defs)
	}

	opts := []llm.RequestOption{llm.WithTools(defs)}
	if a.model.MaxCompletionTokens > 0 {
		opts = append(opts, llm.WithMaxCompletionTokens(a.model.MaxCompletionTokens))
	}
	req := llm.NewRequest(a.model.Name, msgs, opts...)

	start := time.Now()
	calls, final, err := a.complete(ctx, req, stream)
	if err != nil {
		return nil, nil, err
	}
	cc.Ledger().AddPromptTokens(a.model.Name, promptTokens)
	utils.Info("Completion received",
		"model", a.model.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", promptTokens,
		"tools", len(defs),
		"tool_calls", len(calls),
	)

	if final != nil {
		cc.report(ctx, a.name, events.StageResponseStarting)
		return final, nil, nil
	}

	// Имена проверяются до записи assistant-сообщения: подменённое имя
	// должно попасть в транскрипт, иначе модель повторит ошибку.
	for i := range calls {
		if !tools.ValidName(calls[i].Name) {
			calls[i].Name = InvalidName
		}
	}

	assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
	completionTokens := a.encoder.Count(llm.CompactJSON(assistant))
	cc.Ledger().AddCompletionTokens(a.model.Name, completionTokens)

	next := append(msgs[:len(msgs):len(msgs)], assistant)
	appended := []llm.Message{assistant}

	for _, call := range calls {
		content, direct, err := a.handleCall(ctx, call, cc, len(calls) == 1, promptTokens+completionTokens)
		if err != nil {
			return nil, nil, err
		}
		if direct {
			cc.report(ctx, a.name, events.StageResponseStarting)
			return a.directResponse(content, stream), nil, nil
		}

		msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: content}
		next = append(next, msg)
		appended = append(appended, msg)
	}

	a.saveTranscript(ctx, cc, appended)
	return nil, next, nil
}

// complete выполняет запрос к модели. Возвращает вызовы функций или,
// если их нет, готовый ответ.
func (a *Agent) complete(ctx context.Context, req llm.CompletionRequest, stream bool) ([]llm.ToolCall, *Response, error) {
	if !stream {
		completion, err := a.provider.CreateCompletion(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		if len(completion.Message.ToolCalls) == 0 {
			return nil, &Response{Completion: completion}, nil
		}
		return append([]llm.ToolCall(nil), completion.Message.ToolCalls...), nil, nil
	}

	s, err := a.provider.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	calls, replay, err := readToolCalls(s)
	if err != nil {
		return nil, nil, err
	}
	if replay != nil {
		return nil, &Response{Stream: replay}, nil
	}
	return calls, nil, nil
}

// readToolCalls читает стрим, собирая вызовы функций.
//
// Как только в чанке появляется текст (или отказ модели), ответ уже не
// является вызовом функций: стрим возвращается вызывающему коду вместе
// с прочитанными чанками, без буферизации остального ответа.
func readToolCalls(s llm.Stream) ([]llm.ToolCall, llm.Stream, error) {
	acc := llm.NewToolCallAccumulator()
	var buffered []llm.CompletionChunk

	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			s.Close()
			calls := acc.Finish()
			if len(calls) == 0 {
				return nil, llm.NewReplayStream(buffered, nil), nil
			}
			return calls, nil, nil
		}
		if err != nil {
			s.Close()
			return nil, nil, err
		}

		buffered = append(buffered, chunk)
		if chunk.HasContent() {
			return nil, llm.NewReplayStream(buffered, s), nil
		}
		acc.Add(chunk.ToolCalls)
	}
}

// promptTokens считает токены транскрипта (без картинок) и описаний функций.
func (a *Agent) promptTokens(msgs []llm.Message, defs []llm.ToolDefinition) int {
	stripped := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		stripped[i] = m.StripImages()
	}
	n := a.encoder.Count(llm.CompactJSON(stripped))
	for _, d := range defs {
		n += a.encoder.Count(llm.CompactJSON(d))
	}
	return n
}

// summarizeTranscript сжимает всё, кроме последнего сообщения, в одно
// системное сообщение с резюме.
func (a *Agent) summarizeTranscript(ctx context.Context, msgs []llm.Message, cc *Context) ([]llm.Message, error) {
	last := msgs[len(msgs)-1]
	history := llm.CompactJSON(msgs[:len(msgs)-1])

	r := summarizer.NewRefine(a.summarizerProvider, a.encoder, a.summarizer, summarizer.DefaultMaxChallenge)
	summary, err := r.Summarize(ctx, history)
	r.Charge(cc.Ledger())
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}

	utils.Info("History summarized",
		"conversation_id", cc.ConversationID(),
		"messages", len(msgs)-1,
		"rounds", r.Rounds(),
		"summary_tokens", a.encoder.Count(summary),
	)

	return []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, fmt.Sprintf(SummaryPrompt, summary)),
		last,
	}, nil
}

// saveTranscript дописывает раунд в хранилище. Ошибки только логируются:
// транскрипт вторичен по отношению к ответу.
func (a *Agent) saveTranscript(ctx context.Context, cc *Context, msgs []llm.Message) {
	if cc.transcript == nil {
		return
	}
	if err := cc.transcript.Save(ctx, cc.ConversationID(), msgs); err != nil {
		utils.Error("Transcript save failed", "conversation_id", cc.ConversationID(), "error", err)
	}
}
