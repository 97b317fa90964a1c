package models

import (
	"github.com/ilkoid/cortex/pkg/llm"
)

// SummarizerModel - модель, которой цикл агента сжимает историю и большие
// ответы функций. Расход суммаризации учитывается в журнале под этим именем.
const SummarizerModel = "gpt-3.5-turbo"

// VectorSize - размерность эмбеддингов OpenAI, под неё создаются хранилища.
const VectorSize = 1536

// imageLimit - лимит картинки vision моделей (20 MiB).
const imageLimit = 20 * 1024 * 1024

// Pricing - цены в долларах за единицу.
//
// Для текстовых моделей единица - токен, для генерации картинок - картинка,
// для распознавания речи - секунда, для синтеза - символ.
type Pricing struct {
	Prompt     float64
	Completion float64
	Unit       float64
}

// CatalogEntry - известная модель.
type CatalogEntry struct {
	Spec    llm.ModelSpec
	Pricing Pricing
}

// Catalog - справочник моделей: окна контекста, лимиты и цены.
//
// Алиасы (gpt-4o) и датированные имена (gpt-4o-2024-05-13) - отдельные ключи.
type Catalog map[string]CatalogEntry

// DefaultCatalog возвращает справочник моделей OpenAI.
func DefaultCatalog() Catalog {
	c := Catalog{}

	vision := func(names ...string) {
		for _, n := range names {
			c[n] = CatalogEntry{Spec: llm.ModelSpec{Name: n, MaxTokens: 128000, MaxCompletionTokens: 4096, ImageSizeLimit: imageLimit}}
		}
	}
	chat := func(window int, names ...string) {
		for _, n := range names {
			c[n] = CatalogEntry{Spec: llm.ModelSpec{Name: n, MaxTokens: window}}
		}
	}
	price := func(prompt, completion float64, names ...string) {
		for _, n := range names {
			e := c[n]
			e.Pricing = Pricing{Prompt: prompt / 1000, Completion: completion / 1000}
			c[n] = e
		}
	}

	vision("gpt-4o", "gpt-4o-2024-05-13", "gpt-4o-mini", "gpt-4o-mini-2024-07-18",
		"gpt-4-turbo", "gpt-4-turbo-2024-04-09", "gpt-4-1106-vision-preview")
	// preview алиас без vision и без лимита ответа
	chat(128000, "gpt-4-turbo-preview")
	chat(8192, "gpt-4", "gpt-4-0613")
	chat(32768, "gpt-4-32k", "gpt-4-32k-0613")
	chat(16385, "gpt-3.5-turbo", "gpt-3.5-turbo-0125", "gpt-3.5-turbo-16k")

	price(0.005, 0.015, "gpt-4o", "gpt-4o-2024-05-13")
	price(0.00015, 0.000075, "gpt-4o-mini", "gpt-4o-mini-2024-07-18")
	price(0.01, 0.03, "gpt-4-turbo", "gpt-4-turbo-2024-04-09", "gpt-4-turbo-preview", "gpt-4-1106-vision-preview")
	price(0.03, 0.06, "gpt-4", "gpt-4-0613")
	price(0.06, 0.12, "gpt-4-32k", "gpt-4-32k-0613")
	price(0.0005, 0.0015, "gpt-3.5-turbo", "gpt-3.5-turbo-0125", "gpt-3.5-turbo-16k")

	for name, p := range map[string]float64{
		"text-embedding-ada-002": 0.0001,
		"text-embedding-3-small": 0.00002,
		"text-embedding-3-large": 0.00013,
	} {
		c[name] = CatalogEntry{
			Spec:    llm.ModelSpec{Name: name, MaxTokens: 8191},
			Pricing: Pricing{Prompt: p / 1000},
		}
	}

	for name, p := range map[string]float64{
		"standard-1024x1024": 0.040,
		"standard-1024x1792": 0.080,
		"standard-1792x1024": 0.080,
		"hd-1024x1024":       0.080,
		"hd-1024x1792":       0.120,
		"hd-1792x1024":       0.120,
		"1024x1024":          0.020,
		"512x512":            0.018,
		"256x256":            0.016,
		"whisper-1":          0.006 / 60,
		"tts-1":              0.015 / 1000,
		"tts-hd-1":           0.030 / 1000,
	} {
		c[name] = CatalogEntry{Spec: llm.ModelSpec{Name: name}, Pricing: Pricing{Unit: p}}
	}

	return c
}

// Spec возвращает лимиты модели.
func (c Catalog) Spec(name string) (llm.ModelSpec, bool) {
	e, ok := c[name]
	return e.Spec, ok
}

// Prices реализует ledger.Pricer.
func (c Catalog) Prices(model string) (Pricing, bool) {
	e, ok := c[model]
	return e.Pricing, ok
}

// ResolveSpec собирает ModelSpec для модели из конфига.
//
// Окно контекста из конфига имеет приоритет над справочником; для неизвестной
// модели без окна в конфиге берётся 8192.
func (c Catalog) ResolveSpec(name string, contextWindow, maxCompletion int) llm.ModelSpec {
	spec, ok := c.Spec(name)
	if !ok {
		spec = llm.ModelSpec{Name: name, MaxTokens: 8192}
	}
	if contextWindow > 0 {
		spec.MaxTokens = contextWindow
	}
	if maxCompletion > 0 {
		spec.MaxCompletionTokens = maxCompletion
	}
	return spec
}
