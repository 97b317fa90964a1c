// Package tokenizer считает токены так же, как их считает модель.
//
// Токены нужны циклу агента для трёх решений: влезает ли история в окно
// контекста, влезает ли ответ функции в остаток окна, и сколько записать
// в журнал расхода.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding используется GPT-3.5 Turbo и GPT-4.
const DefaultEncoding = "cl100k_base"

// Encoder превращает текст в токены и обратно.
//
// Decode(Encode(s)) == s для любого s. Count(s) == len(Encode(s)).
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

// Tiktoken - BPE энкодер OpenAI.
type Tiktoken struct {
	tk *tiktoken.Tiktoken
}

var (
	encodersMu sync.Mutex
	encoders   = map[string]*Tiktoken{}
)

// ForModel возвращает энкодер модели. Неизвестные модели получают cl100k_base.
//
// Энкодеры кэшируются: загрузка BPE словаря дорогая.
func ForModel(model string) (*Tiktoken, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()

	if enc, ok := encoders[model]; ok {
		return enc, nil
	}

	tk, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tk, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("load encoding %s: %w", DefaultEncoding, err)
		}
	}

	enc := &Tiktoken{tk: tk}
	encoders[model] = enc
	return enc, nil
}

// Encode реализует Encoder. Спецтокены кодируются как обычный текст.
func (t *Tiktoken) Encode(text string) []int {
	return t.tk.Encode(text, nil, nil)
}

// Decode реализует Encoder.
func (t *Tiktoken) Decode(tokens []int) string {
	return t.tk.Decode(tokens)
}

// Count реализует Encoder.
func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

// RuneEncoder считает один токен на руну.
//
// Детерминированный энкодер без словаря: делает арифметику токенов
// в тестах точной и служит запасным вариантом, когда словарь BPE
// недоступен (нет сети при первом запуске).
type RuneEncoder struct{}

// Encode реализует Encoder.
func (RuneEncoder) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

// Decode реализует Encoder.
func (RuneEncoder) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// Count реализует Encoder.
func (RuneEncoder) Count(text string) int {
	n := 0
	for range text {
		n++
	}
	return n
}

// ForModelOrRunes возвращает tiktoken энкодер модели, а при ошибке загрузки
// словаря - RuneEncoder.
func ForModelOrRunes(model string) Encoder {
	enc, err := ForModel(model)
	if err != nil {
		return RuneEncoder{}
	}
	return enc
}

var (
	_ Encoder = (*Tiktoken)(nil)
	_ Encoder = RuneEncoder{}
)
