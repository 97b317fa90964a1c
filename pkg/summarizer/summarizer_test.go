package summarizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/tokenizer"
)

// fakeProvider отвечает функцией respond и записывает промпты.
type fakeProvider struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (string, error)
}

func (f *fakeProvider) CreateCompletion(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	prompt := req.Messages[0].Content

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	out, err := f.respond(prompt)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{
		Message: llm.NewTextMessage(llm.RoleAssistant, out),
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 3},
	}, nil
}

func (f *fakeProvider) CreateCompletionStream(context.Context, llm.CompletionRequest) (llm.Stream, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func constant(s string) func(string) (string, error) {
	return func(string) (string, error) { return s, nil }
}

func TestPunctuate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"no boundary here", "no boundary here"},
		{"First. Second", "First."},
		{"Что? Да! ещё", "Что? Да!"},
		{"一。二", "一。"},
		{"line one\nline two", "line one\n"},
		{"full width！tail", "full width！"},
		{"ends with dot.", "ends with dot."},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, punctuate(tt.in))
		})
	}
}

func TestTextChunks(t *testing.T) {
	b := &base{encoder: tokenizer.RuneEncoder{}}

	assert.Equal(t, []string{"short"}, b.textChunks("short", 10))

	text := "One two. Three four five. Six seven eight nine. Ten"
	chunks := b.textChunks(text, 12)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, ""), "chunks cover the whole text")
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(c)), 12)
	}
	assert.Equal(t, "One two.", chunks[0])

	// без знаков препинания режется ровно по размеру
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, b.textChunks("abcdefghij", 4))
}

func TestMapReduce_SingleRound(t *testing.T) {
	p := &fakeProvider{respond: constant("short summary")}
	spec := llm.ModelSpec{Name: "gpt-3.5-turbo", MaxTokens: 600}
	m := NewMapReduce(p, tokenizer.RuneEncoder{}, spec, 0)

	chunkSize := (spec.MaxTokens - m.overhead(InitialPrompt(""))) / 2
	require.Greater(t, chunkSize, 0)

	text := strings.Repeat("Sentence number x. ", 3*chunkSize/19+1)
	out, err := m.Summarize(context.Background(), text)
	require.NoError(t, err)

	calls := p.calls()
	assert.Greater(t, calls, 1, "text is split into several map chunks")
	assert.Equal(t, strings.Repeat("short summary", calls), out)
	assert.Equal(t, 1, m.Rounds())
	assert.Equal(t, llm.Usage{PromptTokens: 10 * calls, CompletionTokens: 3 * calls}, m.Usage())
	for _, prompt := range p.prompts {
		assert.True(t, strings.HasPrefix(prompt, summaryInstruction+"---\n"))
	}
}

// Суммаризатор либо укладывается в окно, либо сдаётся после maxChallenge+1 раундов.
func TestMapReduce_TerminationBound(t *testing.T) {
	for _, maxChallenge := range []int{1, 2, 5} {
		spec := llm.ModelSpec{Name: "m", MaxTokens: 400}
		p := &fakeProvider{}
		m := NewMapReduce(p, tokenizer.RuneEncoder{}, spec, maxChallenge)

		// модель отвечает текстом размером с кусок: склейка никогда не сжимается
		chunkSize := (spec.MaxTokens - m.overhead(InitialPrompt(""))) / 2
		p.respond = constant(strings.Repeat("z", chunkSize))

		out, err := m.Summarize(context.Background(), strings.Repeat("word. ", 200))
		require.NoError(t, err)
		assert.Greater(t, tokenizer.RuneEncoder{}.Count(out), spec.MaxTokens)
		assert.Equal(t, maxChallenge+1, m.Rounds(), "max challenge %d", maxChallenge)
	}
}

func TestMapReduce_ReduceUntilFits(t *testing.T) {
	spec := llm.ModelSpec{Name: "m", MaxTokens: 400}
	var mu sync.Mutex
	calls := 0
	// первый раунд раздувает, дальше ответы короткие
	p := &fakeProvider{respond: func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return strings.Repeat("y. ", 150), nil
		}
		return "ok", nil
	}}
	m := NewMapReduce(p, tokenizer.RuneEncoder{}, spec, 5)

	chunkSize := (spec.MaxTokens - m.overhead(InitialPrompt(""))) / 2
	text := strings.Repeat("a", chunkSize) + strings.Repeat("b", chunkSize)

	out, err := m.Summarize(context.Background(), text)
	require.NoError(t, err)
	assert.LessOrEqual(t, tokenizer.RuneEncoder{}.Count(out), spec.MaxTokens)
	assert.GreaterOrEqual(t, m.Rounds(), 2)
}

func TestMapReduce_ErrorPropagates(t *testing.T) {
	upstream := errkind.Retryable(errors.New("503"))
	p := &fakeProvider{respond: func(string) (string, error) { return "", upstream }}
	m := NewMapReduce(p, tokenizer.RuneEncoder{}, llm.ModelSpec{Name: "m", MaxTokens: 400}, 1)

	_, err := m.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))
}

func TestRefine_SingleChunk(t *testing.T) {
	p := &fakeProvider{respond: constant("summary")}
	r := NewRefine(p, tokenizer.RuneEncoder{}, llm.ModelSpec{Name: "gpt-3.5-turbo", MaxTokens: 16385}, 0)

	out, err := r.Summarize(context.Background(), "a short conversation")
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	require.Len(t, p.prompts, 1)
	assert.Equal(t, InitialPrompt("a short conversation"), p.prompts[0])
}

func TestRefine_Sequential(t *testing.T) {
	var n int
	p := &fakeProvider{respond: func(string) (string, error) {
		n++
		return "s" + strings.Repeat("!", n), nil
	}}
	spec := llm.ModelSpec{Name: "m", MaxTokens: 1600}
	r := NewRefine(p, tokenizer.RuneEncoder{}, spec, 10)

	defaultChunk := (spec.MaxTokens - r.overhead(InitialPrompt(""), RefinePrompt("", ""))) / 2
	require.Greater(t, defaultChunk, 20)

	text := strings.Repeat("x", 2*defaultChunk+10)
	out, err := r.Summarize(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, p.prompts, 3)
	assert.True(t, strings.HasPrefix(p.prompts[0], InitialPrompt("")[:len(summaryInstruction)]))
	assert.NotContains(t, p.prompts[0], "existing summary")
	assert.Contains(t, p.prompts[1], "existing summary up to a certain point: s!\n")
	assert.Contains(t, p.prompts[2], "existing summary up to a certain point: s!!\n")
	assert.Equal(t, "s!!!", out)
	assert.Equal(t, 3, r.Rounds())

	l := ledger.New()
	r.Charge(l)
	s := l.Snapshot()
	assert.Equal(t, 30, s.PromptTokens["m"])
	assert.Equal(t, 9, s.CompletionTokens["m"])
}

func TestRefine_StopsAtMaxChallenge(t *testing.T) {
	p := &fakeProvider{respond: constant("partial")}
	spec := llm.ModelSpec{Name: "m", MaxTokens: 1600}
	r := NewRefine(p, tokenizer.RuneEncoder{}, spec, 2)

	out, err := r.Summarize(context.Background(), strings.Repeat("x", 10*spec.MaxTokens))
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	assert.Equal(t, 2, p.calls())
}

func TestRefine_ChunkSizeExhausted(t *testing.T) {
	spec := llm.ModelSpec{Name: "m", MaxTokens: 1600}
	// резюме больше размера куска: следующий кусок становится <= 0
	p := &fakeProvider{respond: constant(strings.Repeat("q", spec.MaxTokens))}
	r := NewRefine(p, tokenizer.RuneEncoder{}, spec, 10)

	out, err := r.Summarize(context.Background(), strings.Repeat("x", 3*spec.MaxTokens))
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls())
	assert.Len(t, out, spec.MaxTokens)
}
