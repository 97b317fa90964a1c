package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/summarizer"
	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/utils"
)

// cacheKey - нормализованный ключ вызова для семантического кэша.
type cacheKey struct {
	Name      string          `json:"name"`
	Arguments tools.Arguments `json:"arguments"`
}

// handleCall обрабатывает один вызов функции и возвращает текст
// tool-сообщения. direct=true означает, что текст - финальный ответ.
//
// only - это единственный вызов раунда; used - токены, уже занятые
// промптом и assistant-сообщением.
func (a *Agent) handleCall(ctx context.Context, call llm.ToolCall, cc *Context, only bool, used int) (string, bool, error) {
	if call.Name == InvalidName {
		return MsgInvalidName, false, nil
	}

	f, err := a.registry.Get(call.Name)
	if err != nil {
		return MsgNotFound, false, nil
	}

	// Rule 7: нехватка бюджета - не ошибка вызова, а конец всего цикла
	if err := cc.budget.Consume(ctx, cc.ConversationID(), f.Budget()); err != nil {
		return "", false, err
	}

	args, err := tools.ParseArguments(call.Arguments)
	if err != nil {
		return MsgInvalidArguments, false, nil
	}

	cc.push(f.Name())
	cc.report(ctx,
		fmt.Sprintf("# %s\n%s.%s(%s)", f.Description(), a.name, f.Name(), llm.CompactJSON(args)),
		events.StageFunctionCalling)

	key := llm.CompactJSON(cacheKey{Name: f.Name(), Arguments: args})
	result, live, err := a.executeFunctionOrCache(ctx, f, args, key, cc)
	if err != nil {
		return "", false, err
	}
	content := result.String()

	if only && f.DirectReturn() {
		return content, true, nil
	}

	if remaining := a.model.MaxTokens - used; a.encoder.Count(content) > remaining {
		if content, err = a.compress(ctx, f.Name(), content, remaining, cc); err != nil {
			return "", false, err
		}
	}

	if live && f.Cache().Enabled && cc.cache != nil {
		if _, err := cc.cache.Put(ctx, cc.ConversationID(), key, []byte(content), f.Cache().TTL, cc.Ledger()); err != nil {
			utils.Warn("Cache write failed", "tool", f.Name(), "error", err)
		}
	}

	return content, false, nil
}

// executeFunctionOrCache возвращает результат из кэша или выполняет функцию.
//
// live=true только если функция действительно выполнилась: только такой
// результат имеет смысл сохранять в кэш.
func (a *Agent) executeFunctionOrCache(ctx context.Context, f *tools.Function, args tools.Arguments, key string, cc *Context) (tools.FunctionResult, bool, error) {
	if f.Cache().Enabled && cc.cache != nil {
		payload, hit, err := cc.cache.Lookup(ctx, cc.ConversationID(), key, f.Cache().SimilarityThreshold, cc.Ledger())
		switch {
		case err != nil:
			// Кэш недоступен: выполняем функцию вживую
			utils.Warn("Cache lookup failed", "tool", f.Name(), "error", err)
		case hit:
			return tools.FunctionResult{Response: string(payload)}, false, nil
		}
	}

	filtered, missing := args.Filter(f.Parameters())
	if len(missing) > 0 {
		utils.Debug("Required parameters are missing", "tool", f.Name(), "missing", missing)
		return tools.FunctionResult{Response: MsgMissingRequired}, false, nil
	}

	timeout := a.defaultToolTimeout
	if t, ok := a.toolTimeouts[f.Name()]; ok {
		timeout = t
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := f.Call(callCtx, cc, filtered)
	duration := time.Since(start).Milliseconds()

	if err != nil && timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		utils.Warn("Tool execution timeout", "tool", f.Name(), "timeout", timeout, "duration_ms", duration)
		return tools.FunctionResult{Response: fmt.Sprintf(
			"Tool %q exceeded timeout of %v. Either the tool is stuck or the upstream service is slow.",
			f.Name(), timeout)}, false, nil
	}
	if err != nil {
		// Retryable ошибки функций доходят до вызывающего кода как есть
		return tools.FunctionResult{}, false, err
	}

	utils.Debug("Tool execution completed", "tool", f.Name(), "duration_ms", duration)
	return result, true, nil
}

// compress сжимает слишком большой результат функции через MapReduce.
func (a *Agent) compress(ctx context.Context, name, content string, remaining int, cc *Context) (string, error) {
	mr := summarizer.NewMapReduce(a.summarizerProvider, a.encoder, a.summarizer, 1)
	summary, err := mr.Summarize(ctx, content)
	mr.Charge(cc.Ledger())
	if err != nil {
		return "", fmt.Errorf("summarize %s result: %w", name, err)
	}

	utils.Info("Tool result summarized",
		"tool", name,
		"tokens", a.encoder.Count(content),
		"remaining", remaining,
		"summary_tokens", a.encoder.Count(summary),
		"rounds", mr.Rounds(),
	)
	return summary, nil
}
