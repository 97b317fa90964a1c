package summarizer

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/utils"
)

// MapReduce суммирует куски параллельно и склеивает результаты.
//
// Если склейка всё ещё больше окна модели, склейка снова режется и
// суммируется. После MaxChallenge повторов возвращается текущий результат,
// даже если он не влезает.
type MapReduce struct {
	base
	maxChallenge int
	rounds       int
}

// NewMapReduce создаёт суммаризатор. maxChallenge <= 0 означает DefaultMaxChallenge.
func NewMapReduce(provider llm.CompletionProvider, encoder tokenizer.Encoder, model llm.ModelSpec, maxChallenge int) *MapReduce {
	if maxChallenge <= 0 {
		maxChallenge = DefaultMaxChallenge
	}
	return &MapReduce{
		base:         base{provider: provider, encoder: encoder, model: model},
		maxChallenge: maxChallenge,
	}
}

// Rounds возвращает число выполненных раундов (map + каждый reduce).
func (m *MapReduce) Rounds() int {
	return m.rounds
}

// Summarize сжимает текст.
func (m *MapReduce) Summarize(ctx context.Context, text string) (string, error) {
	chunkSize := (m.model.MaxTokens - m.overhead(InitialPrompt(""))) / 2

	// Map
	summary, err := m.round(ctx, m.textChunks(text, chunkSize))
	if err != nil {
		return "", err
	}

	// Reduce
	challenge := 1
	for m.encoder.Count(summary) > m.model.MaxTokens {
		if challenge > m.maxChallenge {
			utils.Warn("Map-reduce gave up", "rounds", m.rounds, "tokens", m.encoder.Count(summary), "max_tokens", m.model.MaxTokens)
			return summary, nil
		}
		challenge++

		if summary, err = m.round(ctx, m.textChunks(summary, chunkSize)); err != nil {
			return "", err
		}
	}

	return summary, nil
}

// round суммирует куски параллельно и склеивает результаты в исходном порядке.
// Токены всех вызовов учитываются после того как все вызовы завершились.
func (m *MapReduce) round(ctx context.Context, chunks []string) (string, error) {
	m.rounds++

	summaries := make([]string, len(chunks))
	usages := make([]llm.Usage, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			s, u, err := m.summary(gctx, InitialPrompt(chunk))
			if err != nil {
				return err
			}
			summaries[i], usages[i] = s, u
			return nil
		})
	}
	err := g.Wait()

	for _, u := range usages {
		m.addUsage(u)
	}
	if err != nil {
		return "", err
	}

	utils.Debug("Map-reduce round finished", "round", m.rounds, "chunks", len(chunks))
	return strings.Join(summaries, ""), nil
}
