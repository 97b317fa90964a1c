// Package summarizer сжимает текст, не влезающий в окно контекста модели.
//
// MapReduce параллельно суммирует куски и склеивает результаты; им сжимается
// большой ответ одной функции. Refine идёт по кускам последовательно,
// уточняя итоговое резюме; им сжимается история разговора.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/utils"
)

// DefaultMaxChallenge - сколько раундов сжатия допускается до отказа.
const DefaultMaxChallenge = 5

const summaryInstruction = "Your task is to create a concise running summary of actions and information results in the provided text while keeping the input language, focusing on key and potentially important information to remember.\n"

// messageFormat - обёртка системного сообщения; её токены тоже занимают окно.
const messageFormat = `{"role":"system","content":""}`

// punctuation - границы предложений и строк, по которым режутся куски.
var punctuation = []string{".", "．", "。", "?", "？", "!", "！", "\n"}

// InitialPrompt - промпт первого (или единственного) куска.
func InitialPrompt(text string) string {
	return summaryInstruction + "---\n" + text + "\n---"
}

// RefinePrompt - промпт уточнения имеющегося резюме новым куском.
func RefinePrompt(existingAnswer, text string) string {
	return summaryInstruction +
		"We have provided an existing summary up to a certain point: " + existingAnswer + "\n" +
		"We have the opportunity to refine the existing summary (only if needed) with some more context below.\n" +
		"---\n" + text + "\n---\n" +
		"Given the new context, refine the original summary.\n" +
		"If the context isn't useful, return the original summary."
}

// base - общая часть суммаризаторов: вызов модели, учёт токенов, нарезка.
type base struct {
	provider llm.CompletionProvider
	encoder  tokenizer.Encoder
	model    llm.ModelSpec

	mu    sync.Mutex
	usage llm.Usage
}

// Usage возвращает токены, потраченные суммаризатором с момента создания.
func (b *base) Usage() llm.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

// Model возвращает имя модели суммаризатора.
func (b *base) Model() string {
	return b.model.Name
}

// Charge переносит потраченные токены в журнал разговора под именем модели.
func (b *base) Charge(l *ledger.Ledger) {
	u := b.Usage()
	l.AddPromptTokens(b.model.Name, u.PromptTokens)
	l.AddCompletionTokens(b.model.Name, u.CompletionTokens)
}

func (b *base) addUsage(u llm.Usage) {
	b.mu.Lock()
	b.usage.PromptTokens += u.PromptTokens
	b.usage.CompletionTokens += u.CompletionTokens
	b.mu.Unlock()
}

// summary - один вызов модели: единственное системное сообщение, без стрима.
// Токены не записываются в счётчики: вызывающий код суммирует их сам.
func (b *base) summary(ctx context.Context, prompt string) (string, llm.Usage, error) {
	req := llm.NewRequest(b.model.Name, []llm.Message{llm.NewTextMessage(llm.RoleSystem, prompt)})

	resp, err := b.provider.CreateCompletion(ctx, req)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("summarize: %w", err)
	}
	return resp.Message.Content, resp.Usage, nil
}

// overhead - число токенов промпта без текста.
func (b *base) overhead(prompts ...string) int {
	n := b.encoder.Count(messageFormat)
	for _, p := range prompts {
		n += b.encoder.Count(p)
	}
	return n
}

// punctuate обрезает текст после последнего знака конца предложения или строки.
// Если такого знака нет, текст возвращается целиком.
func punctuate(text string) string {
	last := -1
	size := 0
	for _, p := range punctuation {
		if i := strings.LastIndex(text, p); i > last {
			last, size = i, len(p)
		}
	}
	if last == -1 {
		return text
	}
	return text[:last+size]
}

// takeChunk отрезает от tokens кусок не длиннее size токенов, заканчивающийся
// на границе предложения. Возвращает текст куска и оставшиеся токены.
func (b *base) takeChunk(tokens []int, size int) (string, []int) {
	if size > len(tokens) {
		size = len(tokens)
	}
	text := punctuate(b.encoder.Decode(tokens[:size]))

	consumed := len(b.encoder.Encode(text))
	if consumed <= 0 || consumed > len(tokens) {
		// текст куска не совпал с префиксом токенов: берём кусок как есть
		text = b.encoder.Decode(tokens[:size])
		consumed = size
	}
	return text, tokens[consumed:]
}

// textChunks режет текст на куски не длиннее chunkSize токенов.
func (b *base) textChunks(text string, chunkSize int) []string {
	if chunkSize < 1 {
		chunkSize = 1
	}
	tokens := b.encoder.Encode(text)
	if len(tokens) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(tokens) > 0 {
		var chunk string
		chunk, tokens = b.takeChunk(tokens, chunkSize)
		chunks = append(chunks, chunk)
	}

	utils.Debug("Text split into chunks", "chunks", len(chunks), "chunk_size", chunkSize)
	return chunks
}
