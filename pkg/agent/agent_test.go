package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/budget"
	"github.com/ilkoid/cortex/pkg/cache"
	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/memory"
	"github.com/ilkoid/cortex/pkg/models"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/tools"
)

const (
	testModel = "gpt-4"
	convID    = "C42"
)

// reply - заготовленный ответ модели на один раунд.
type reply struct {
	completion *llm.Completion
	chunks     []llm.CompletionChunk
	err        error
}

// fakeProvider отвечает по сценарию. Запросы суммаризатора (gpt-3.5-turbo)
// обслуживаются отдельно и не расходуют сценарий.
type fakeProvider struct {
	mu        sync.Mutex
	requests  []llm.CompletionRequest
	replies   []reply
	summaries int
	summary   string
}

func (p *fakeProvider) next(req llm.CompletionRequest) (reply, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Model == models.SummarizerModel {
		p.summaries++
		s := p.summary
		if s == "" {
			s = "summary"
		}
		return reply{completion: &llm.Completion{
			Model:   req.Model,
			Message: llm.NewTextMessage(llm.RoleAssistant, s),
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 3},
		}}, true, nil
	}

	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return reply{}, false, errors.New("unexpected completion request")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, false, nil
}

func (p *fakeProvider) CreateCompletion(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	r, _, err := p.next(req)
	if err != nil {
		return nil, err
	}
	return r.completion, r.err
}

func (p *fakeProvider) CreateCompletionStream(_ context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	r, _, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return &countingStream{chunks: r.chunks}, nil
}

func (p *fakeProvider) request(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// countingStream считает, сколько чанков из него прочитали.
type countingStream struct {
	mu     sync.Mutex
	chunks []llm.CompletionChunk
	reads  int
	closed bool
}

func (s *countingStream) Recv() (llm.CompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.reads == len(s.chunks) {
		return llm.CompletionChunk{}, io.EOF
	}
	c := s.chunks[s.reads]
	s.reads++
	return c, nil
}

func (s *countingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// hashEmbedder - мешок слов по 32 корзинам: одинаковый текст даёт одинаковый вектор.
type hashEmbedder struct{}

func (hashEmbedder) CreateEmbedding(_ context.Context, text, _ string) ([]float32, error) {
	v := make([]float32, 32)
	for _, w := range strings.Fields(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%32]++
	}
	return v, nil
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Name: name, Arguments: args}
}

func callsReply(calls ...llm.ToolCall) reply {
	return reply{completion: &llm.Completion{
		Model:        testModel,
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		FinishReason: llm.FinishToolCalls,
	}}
}

func textReply(text string) reply {
	return reply{completion: &llm.Completion{
		Model:        testModel,
		Message:      llm.NewTextMessage(llm.RoleAssistant, text),
		FinishReason: llm.FinishStop,
	}}
}

func querySchema() tools.JSONSchema {
	return tools.JSONSchema{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []string{"query"},
	}
}

// searchTool возвращает определение web_search и счётчик живых вызовов.
func searchTool(threshold float64) (tools.FunctionDefinition, *atomic.Int32) {
	var calls atomic.Int32
	return tools.FunctionDefinition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters:  querySchema(),
		Handler: func(_ context.Context, _ tools.Conversation, args tools.Arguments) (tools.FunctionResult, error) {
			n := calls.Add(1)
			return tools.FunctionResult{
				Instruction: "cite sources",
				Response:    fmt.Sprintf("results for %s #%d", args.String("query"), n),
			}, nil
		},
		Cache: tools.CachePolicy{Enabled: threshold > 0, SimilarityThreshold: threshold},
	}, &calls
}

type fixture struct {
	provider *fakeProvider
	agent    *Agent
	cc       *Context
	tracker  *budget.Tracker
	store    *memory.InMemoryStore
	progress *progressLog
}

type progressLog struct {
	mu      sync.Mutex
	entries []string
}

func (p *progressLog) Report(_ context.Context, message string, stage events.Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, stage.String()+"|"+message)
}

func (p *progressLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.entries...)
}

func newFixture(t *testing.T, b *tools.Builder, budgetN int, maxTokens int, replies ...reply) *fixture {
	t.Helper()
	reg, err := b.Build()
	require.NoError(t, err)

	p := &fakeProvider{replies: replies}
	a, err := New(Config{
		Provider:         p,
		Registry:         reg,
		Model:            llm.ModelSpec{Name: testModel, MaxTokens: maxTokens},
		Encoder:          tokenizer.RuneEncoder{},
		SummarizeHistory: true,
		Summarizer:       llm.ModelSpec{Name: models.SummarizerModel, MaxTokens: 16385},
	})
	require.NoError(t, err)

	tracker := budget.NewTracker(budget.NewMemoryStore(), 0)
	require.NoError(t, tracker.Acquire(context.Background(), convID, budgetN))

	store := memory.NewInMemoryStore(0)
	c := cache.New(store, hashEmbedder{}, tokenizer.RuneEncoder{}, cache.Options{Model: "text-embedding-3-small"})
	progress := &progressLog{}

	cc := NewContext(convID, tracker,
		WithCache(c),
		WithReporter(progress),
		WithTranscript(store.Transcript()),
	)
	return &fixture{provider: p, agent: a, cc: cc, tracker: tracker, store: store, progress: progress}
}

func userMessages(text string) []llm.Message {
	return []llm.Message{llm.NewTextMessage(llm.RoleUser, text)}
}

func TestNew_Validation(t *testing.T) {
	reg, err := tools.NewBuilder().Build()
	require.NoError(t, err)

	_, err = New(Config{Registry: reg, Model: llm.ModelSpec{Name: "m", MaxTokens: 1}})
	assert.ErrorContains(t, err, "provider is required")
	_, err = New(Config{Provider: &fakeProvider{}, Model: llm.ModelSpec{Name: "m", MaxTokens: 1}})
	assert.ErrorContains(t, err, "registry is required")
	_, err = New(Config{Provider: &fakeProvider{}, Registry: reg})
	assert.ErrorContains(t, err, "max tokens")

	a, err := New(Config{Provider: &fakeProvider{}, Registry: reg, Model: llm.ModelSpec{Name: "m", MaxTokens: 1}})
	require.NoError(t, err)
	assert.Equal(t, DefaultName, a.Name())
	assert.Equal(t, models.SummarizerModel, a.summarizer.Name)
}

func TestLoop_FinalAnswer(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192, textReply("hello"))
	f.agent.systemPrompt = "be brief"

	resp, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("hi"), f.cc, false)
	require.NoError(t, err)
	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	req := f.provider.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	assert.Equal(t, "auto", req.ToolChoice)
	assert.Equal(t, 1.0, req.Temperature)
	assert.Equal(t, 1.0, req.TopP)
	assert.Equal(t, 1, req.N)
	require.Len(t, req.Tools, 1)

	snap := f.cc.Ledger().Snapshot()
	assert.Greater(t, snap.PromptTokens[testModel], 0)
	assert.Equal(t, []string{"response_starting|" + DefaultName}, f.progress.all())
}

func TestLoop_InsufficientBudgetAbortsLoop(t *testing.T) {
	def, calls := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 1, 8192,
		callsReply(
			call("1", "web_search", `{"query":"a"}`),
			call("2", "web_search", `{"query":"b"}`),
		),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("search twice"), f.cc, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrInsufficientBudget))
	assert.Equal(t, errkind.KindInsufficientBudget, errkind.Of(err))
	assert.Equal(t, int32(1), calls.Load())

	left, err := f.tracker.Get(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	// Раунд не завершился, транскрипт не сохранён
	saved, err := f.store.LoadMessages(context.Background(), convID)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestLoop_SummarizesOversizedHistory(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192, textReply("done"))

	history := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, strings.Repeat("word ", 1800)),
		llm.NewTextMessage(llm.RoleAssistant, "ok"),
		llm.NewTextMessage(llm.RoleUser, "what did I say?"),
	}

	_, err := f.agent.ChatCompletionLoop(context.Background(), history, f.cc, false)
	require.NoError(t, err)

	req := f.provider.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "Below is a summary of our conversation so far.\n"))
	assert.Contains(t, req.Messages[0].Content, "---\nsummary\n---")
	assert.Equal(t, "what did I say?", req.Messages[1].Content)

	snap := f.cc.Ledger().Snapshot()
	assert.Equal(t, 10*f.provider.summaries, snap.PromptTokens[models.SummarizerModel])
	assert.Equal(t, 3*f.provider.summaries, snap.CompletionTokens[models.SummarizerModel])
	assert.Greater(t, f.provider.summaries, 0)
	assert.Less(t, snap.PromptTokens[testModel], 8192)
}

func TestLoop_NoSummaryWhenDisabled(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192, textReply("done"))
	f.agent.summarizeHistory = false

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages(strings.Repeat("x", 9000)), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.provider.summaries)
	assert.Len(t, f.provider.request(0).Messages, 1)
}

func TestLoop_CacheServesRepeatedCall(t *testing.T) {
	def, calls := searchTool(1.0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"weather today"}`)),
		callsReply(call("2", "web_search", `{"query":"weather today"}`)),
		textReply("sunny"),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("weather?"), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	last := f.provider.request(2).Messages
	first := last[2]
	second := last[4]
	assert.Equal(t, llm.RoleTool, first.Role)
	assert.Equal(t, "### Instruction\ncite sources\n\n### Response\nresults for weather today #1", first.Content)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, "2", second.ToolCallID)

	// Оба вызова оплачены из бюджета, эмбеддинги учтены
	left, _ := f.tracker.Get(context.Background(), convID)
	assert.Equal(t, 8, left)
	assert.Greater(t, f.cc.Ledger().Snapshot().EmbeddingTokens["text-embedding-3-small"], 0)
}

func TestLoop_FuzzyThresholdMisses(t *testing.T) {
	def, calls := searchTool(1.0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"weather today"}`)),
		callsReply(call("2", "web_search", `{"query":"weather tomorrow"}`)),
		textReply("ok"),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("weather?"), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoop_CallValidation(t *testing.T) {
	def, calls := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(
			call("1", "../etc", `{}`),
			call("2", "missing_tool", `{}`),
			call("3", "web_search", `{not json`),
			call("4", "web_search", `{"q":"wrong key"}`),
		),
		textReply("sorry"),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())

	msgs := f.provider.request(1).Messages
	require.Len(t, msgs, 6)

	assistant := msgs[1]
	require.Len(t, assistant.ToolCalls, 4)
	assert.Equal(t, InvalidName, assistant.ToolCalls[0].Name)
	assert.Equal(t, "missing_tool", assistant.ToolCalls[1].Name)

	assert.Equal(t, "name is not match with ^[a-zA-Z0-9_-]{1,64}$", msgs[2].Content)
	assert.Equal(t, InvalidName, msgs[2].Name)
	assert.Equal(t, "name is not found", msgs[3].Content)
	assert.Equal(t, "arguments is not a valid JSON string", msgs[4].Content)
	assert.Equal(t, "Required parameters are missing", msgs[5].Content)

	// Бюджет списан только для зарегистрированных функций
	left, _ := f.tracker.Get(context.Background(), convID)
	assert.Equal(t, 8, left)
	// В стек попал только вызов с валидными аргументами
	assert.Equal(t, []string{"web_search"}, f.cc.CallStack())
}

func TestLoop_DependencyGating(t *testing.T) {
	search, _ := searchTool(0)
	upload := tools.FunctionDefinition{
		Name:        "file_upload",
		Description: "Upload",
		Parameters:  tools.JSONSchema{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, tools.Conversation, tools.Arguments) (tools.FunctionResult, error) {
			return tools.FunctionResult{Response: "link"}, nil
		},
	}
	b := tools.NewBuilder().Add(search).Add(upload).DependsOn("file_upload", "web_search")

	f := newFixture(t, b, 10, 8192,
		callsReply(call("1", "web_search", `{"query":"a"}`)),
		textReply("done"),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)

	toolNames := func(req llm.CompletionRequest) []string {
		var names []string
		for _, d := range req.Tools {
			names = append(names, d.Name)
		}
		return names
	}
	assert.Equal(t, []string{"web_search"}, toolNames(f.provider.request(0)))
	assert.Equal(t, []string{"web_search", "file_upload"}, toolNames(f.provider.request(1)))
}

func TestLoop_CapabilityHidesTools(t *testing.T) {
	search, _ := searchTool(0)
	search.Capability = tools.CapabilityInternal
	f := newFixture(t, tools.NewBuilder().Add(search), 10, 8192, textReply("done"))

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)
	req := f.provider.request(0)
	assert.Empty(t, req.Tools)
	assert.Empty(t, req.ToolChoice)
}

func TestLoop_DirectReturn(t *testing.T) {
	def, calls := searchTool(0)
	def.DirectReturn = true
	// Второго запроса к модели быть не должно: сценарий пуст
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"x"}`)),
	)

	resp, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "### Instruction\ncite sources\n\n### Response\nresults for x #1", resp.Completion.Message.Content)
	assert.Equal(t, llm.FinishStop, resp.Completion.FinishReason)
}

func TestLoop_DirectReturnIgnoredWithSeveralCalls(t *testing.T) {
	def, calls := searchTool(0)
	def.DirectReturn = true
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"x"}`), call("2", "web_search", `{"query":"y"}`)),
		textReply("both"),
	)

	resp, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "both", resp.Completion.Message.Content)
}

func TestLoop_StreamingEarlyExit(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		reply{chunks: []llm.CompletionChunk{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "1", Name: "web_"}}},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Name: "search", Arguments: `{"query":`}}},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `"go"}`}}},
			{FinishReason: llm.FinishToolCalls},
		}},
		reply{chunks: []llm.CompletionChunk{
			{Role: llm.RoleAssistant},
			{Content: "Hello"},
			{Content: ", world"},
			{FinishReason: llm.FinishStop},
		}},
	)

	resp, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, true)
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Nil(t, resp.Completion)

	// Цикл прочитал только до первого чанка с текстом
	replay := resp.Stream.(*llm.ReplayStream)
	require.NotNil(t, replay)

	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)

	msgs := f.provider.request(1).Messages
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "web_search", msgs[1].ToolCalls[0].Name)
	assert.Equal(t, `{"query":"go"}`, msgs[1].ToolCalls[0].Arguments)
}

func TestReadToolCalls_StopsAtContent(t *testing.T) {
	s := &countingStream{chunks: []llm.CompletionChunk{
		{Role: llm.RoleAssistant},
		{Content: "Hi"},
		{Content: " there"},
		{FinishReason: llm.FinishStop},
	}}

	calls, replay, err := readToolCalls(s)
	require.NoError(t, err)
	assert.Empty(t, calls)
	assert.Equal(t, 2, s.reads)

	text, err := llm.Collect(replay)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestLoop_StreamingDirectReturn(t *testing.T) {
	def, _ := searchTool(0)
	def.DirectReturn = true
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		reply{chunks: []llm.CompletionChunk{
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "1", Name: "web_search", Arguments: `{"query":"x"}`}}},
		}},
	)

	resp, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, true)
	require.NoError(t, err)
	text, err := resp.Text()
	require.NoError(t, err)
	assert.Contains(t, text, "results for x #1")
}

func TestLoop_RetryableProviderError(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		reply{err: errkind.Retryable(errors.New("503 service unavailable"))},
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))
}

func TestLoop_RetryableToolErrorPropagates(t *testing.T) {
	def := tools.FunctionDefinition{
		Name:       "flaky",
		Parameters: tools.JSONSchema{"type": "object"},
		Handler: func(context.Context, tools.Conversation, tools.Arguments) (tools.FunctionResult, error) {
			return tools.FunctionResult{}, errkind.Retryable(errors.New("upstream 502"))
		},
	}
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192, callsReply(call("1", "flaky", `{}`)))

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))

	// Бюджет не возвращается
	left, _ := f.tracker.Get(context.Background(), convID)
	assert.Equal(t, 9, left)
}

func TestLoop_ToolTimeout(t *testing.T) {
	def := tools.FunctionDefinition{
		Name:       "slow",
		Parameters: tools.JSONSchema{"type": "object"},
		Handler: func(ctx context.Context, _ tools.Conversation, _ tools.Arguments) (tools.FunctionResult, error) {
			<-ctx.Done()
			return tools.FunctionResult{}, ctx.Err()
		},
	}
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "slow", `{}`)),
		textReply("gave up"),
	)
	f.agent.toolTimeouts["slow"] = 10 * time.Millisecond

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)
	assert.Contains(t, f.provider.request(1).Messages[2].Content, `Tool "slow" exceeded timeout`)
}

func TestLoop_CompressesOversizedToolResult(t *testing.T) {
	big := strings.Repeat("data ", 1000)
	def := tools.FunctionDefinition{
		Name:       "dump",
		Parameters: tools.JSONSchema{"type": "object"},
		Handler: func(context.Context, tools.Conversation, tools.Arguments) (tools.FunctionResult, error) {
			return tools.FunctionResult{Response: big}, nil
		},
		Cache: tools.CachePolicy{Enabled: true, SimilarityThreshold: 1.0},
	}
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 3000,
		callsReply(call("1", "dump", `{}`)),
		textReply("short"),
	)
	f.provider.summary = "compressed"

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("go"), f.cc, false)
	require.NoError(t, err)

	assert.Equal(t, "compressed", f.provider.request(1).Messages[2].Content)
	assert.Equal(t, 1, f.provider.summaries)
	assert.Equal(t, 10, f.cc.Ledger().Snapshot().PromptTokens[models.SummarizerModel])

	// В кэш попал сжатый результат
	matches, err := f.store.Query(context.Background(), convID, mustEmbed(t, `{"name":"dump","arguments":{}}`), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "compressed", string(matches[0].Payload))
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := hashEmbedder{}.CreateEmbedding(context.Background(), text, "")
	require.NoError(t, err)
	return v
}

func TestLoop_ProgressAndTranscript(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"weather today"}`)),
		textReply("sunny"),
	)

	_, err := f.agent.ChatCompletionLoop(context.Background(), userMessages("weather?"), f.cc, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"function_calling|# Search the web\nCortex.web_search({\"query\":\"weather today\"})",
		"response_starting|" + DefaultName,
	}, f.progress.all())

	saved, err := f.store.LoadMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, llm.RoleAssistant, saved[0].Role)
	assert.Equal(t, llm.RoleTool, saved[1].Role)
	assert.Equal(t, "1", saved[1].ToolCallID)
}

func TestLoop_ContextCancelled(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192, textReply("never"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.agent.ChatCompletionLoop(ctx, userMessages("go"), f.cc, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatCompletionBranches_ShareContext(t *testing.T) {
	def, calls := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192,
		callsReply(call("1", "web_search", `{"query":"a"}`)),
		callsReply(call("1", "web_search", `{"query":"b"}`)),
		callsReply(call("1", "web_search", `{"query":"c"}`)),
		textReply("x"), textReply("x"), textReply("x"),
	)

	resps, err := f.agent.ChatCompletionBranches(context.Background(), userMessages("go"), f.cc, 3, false)
	require.NoError(t, err)
	require.Len(t, resps, 3)
	for _, r := range resps {
		require.NotNil(t, r)
	}

	// Порядок ответов между ветками не детерминирован, итог - да
	assert.Equal(t, int32(3), calls.Load())
	left, _ := f.tracker.Get(context.Background(), convID)
	assert.Equal(t, 7, left)
}

func TestChatCompletionBranches_Invalid(t *testing.T) {
	def, _ := searchTool(0)
	f := newFixture(t, tools.NewBuilder().Add(def), 10, 8192)
	_, err := f.agent.ChatCompletionBranches(context.Background(), userMessages("go"), f.cc, 0, false)
	assert.Error(t, err)
}
