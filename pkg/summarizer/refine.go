package summarizer

import (
	"context"

	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/utils"
)

// Refine последовательно уточняет резюме кусок за куском.
//
// Каждый следующий кусок уменьшается на размер текущего резюме, чтобы
// промпт уточнения не переполнил окно.
type Refine struct {
	base
	maxChallenge int
	rounds       int
}

// NewRefine создаёт суммаризатор. maxChallenge <= 0 означает DefaultMaxChallenge.
func NewRefine(provider llm.CompletionProvider, encoder tokenizer.Encoder, model llm.ModelSpec, maxChallenge int) *Refine {
	if maxChallenge <= 0 {
		maxChallenge = DefaultMaxChallenge
	}
	return &Refine{
		base:         base{provider: provider, encoder: encoder, model: model},
		maxChallenge: maxChallenge,
	}
}

// Rounds возвращает число вызовов модели.
func (r *Refine) Rounds() int {
	return r.rounds
}

// Summarize сжимает текст.
func (r *Refine) Summarize(ctx context.Context, text string) (string, error) {
	defaultChunkSize := (r.model.MaxTokens - r.overhead(InitialPrompt(""), RefinePrompt("", ""))) / 2

	tokens := r.encoder.Encode(text)
	if len(tokens) < defaultChunkSize {
		return r.step(ctx, InitialPrompt(text))
	}

	summary := ""
	chunkSize := defaultChunkSize
	for challenge := 1; len(tokens) > 0; challenge++ {
		if chunkSize <= 0 || challenge > r.maxChallenge {
			utils.Warn("Refine stopped early", "rounds", r.rounds, "chunk_size", chunkSize, "tokens_left", len(tokens))
			return summary, nil
		}

		var chunk string
		chunk, tokens = r.takeChunk(tokens, chunkSize)

		prompt := InitialPrompt(chunk)
		if summary != "" {
			prompt = RefinePrompt(summary, chunk)
		}

		var err error
		if summary, err = r.step(ctx, prompt); err != nil {
			return "", err
		}

		chunkSize = defaultChunkSize - r.encoder.Count(summary)
	}

	return summary, nil
}

func (r *Refine) step(ctx context.Context, prompt string) (string, error) {
	r.rounds++
	s, u, err := r.summary(ctx, prompt)
	r.addUsage(u)
	return s, err
}
