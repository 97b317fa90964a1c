// Package ledger учитывает расход ресурсов одного разговора.
//
// Журнал - чисто процессное накопление: шесть независимых карт
// "модель → сумма". Счётчики только растут.
package ledger

import (
	"sort"
	"sync"

	"github.com/ilkoid/cortex/pkg/models"
)

// Ledger - журнал расхода токенов и прочих единиц по моделям.
//
// Thread-safe: параллельные ветки разговора пишут в один журнал.
// Отрицательные приращения игнорируются, поэтому счётчики монотонны.
type Ledger struct {
	mu sync.Mutex

	promptTokens            map[string]int
	completionTokens        map[string]int
	embeddingTokens         map[string]int
	generatedImages         map[string]int
	processedAudioSeconds   map[string]float64
	convertedTextCharacters map[string]int
}

// New создаёт пустой журнал.
func New() *Ledger {
	return &Ledger{
		promptTokens:            make(map[string]int),
		completionTokens:        make(map[string]int),
		embeddingTokens:         make(map[string]int),
		generatedImages:         make(map[string]int),
		processedAudioSeconds:   make(map[string]float64),
		convertedTextCharacters: make(map[string]int),
	}
}

func (l *Ledger) add(m map[string]int, model string, n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	m[model] += n
	l.mu.Unlock()
}

// AddPromptTokens учитывает токены промпта.
func (l *Ledger) AddPromptTokens(model string, n int) { l.add(l.promptTokens, model, n) }

// AddCompletionTokens учитывает токены ответа.
func (l *Ledger) AddCompletionTokens(model string, n int) { l.add(l.completionTokens, model, n) }

// AddEmbeddingTokens учитывает токены эмбеддингов.
func (l *Ledger) AddEmbeddingTokens(model string, n int) { l.add(l.embeddingTokens, model, n) }

// AddGeneratedImages учитывает сгенерированные картинки.
func (l *Ledger) AddGeneratedImages(model string, n int) { l.add(l.generatedImages, model, n) }

// AddConvertedTextCharacters учитывает символы, озвученные синтезом речи.
func (l *Ledger) AddConvertedTextCharacters(model string, n int) {
	l.add(l.convertedTextCharacters, model, n)
}

// AddProcessedAudioSeconds учитывает секунды распознанного аудио.
func (l *Ledger) AddProcessedAudioSeconds(model string, seconds float64) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	l.processedAudioSeconds[model] += seconds
	l.mu.Unlock()
}

// Snapshot - копия журнала на момент чтения.
type Snapshot struct {
	PromptTokens            map[string]int     `json:"prompt_tokens"`
	CompletionTokens        map[string]int     `json:"completion_tokens"`
	EmbeddingTokens         map[string]int     `json:"embedding_tokens"`
	GeneratedImages         map[string]int     `json:"generated_images"`
	ProcessedAudioSeconds   map[string]float64 `json:"processed_audio_seconds"`
	ConvertedTextCharacters map[string]int     `json:"converted_text_characters"`
}

// Snapshot возвращает копию всех счётчиков.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		PromptTokens:            copyInts(l.promptTokens),
		CompletionTokens:        copyInts(l.completionTokens),
		EmbeddingTokens:         copyInts(l.embeddingTokens),
		GeneratedImages:         copyInts(l.generatedImages),
		ProcessedAudioSeconds:   copyFloats(l.processedAudioSeconds),
		ConvertedTextCharacters: copyInts(l.convertedTextCharacters),
	}
}

// Models возвращает отсортированный список моделей, встречающихся в журнале.
func (s Snapshot) Models() []string {
	seen := map[string]struct{}{}
	for _, m := range []map[string]int{s.PromptTokens, s.CompletionTokens, s.EmbeddingTokens, s.GeneratedImages, s.ConvertedTextCharacters} {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	for k := range s.ProcessedAudioSeconds {
		seen[k] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Cost оценивает стоимость в долларах по ценам справочника.
// Модели без цены в справочнике не учитываются и возвращаются во втором значении.
func (s Snapshot) Cost(catalog models.Catalog) (float64, []string) {
	var total float64
	var unknown []string

	for _, model := range s.Models() {
		p, ok := catalog.Prices(model)
		if !ok {
			unknown = append(unknown, model)
			continue
		}
		total += float64(s.PromptTokens[model]+s.EmbeddingTokens[model]) * p.Prompt
		total += float64(s.CompletionTokens[model]) * p.Completion
		total += float64(s.GeneratedImages[model]+s.ConvertedTextCharacters[model]) * p.Unit
		total += s.ProcessedAudioSeconds[model] * p.Unit
	}
	return total, unknown
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
