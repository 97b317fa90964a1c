// Package factory создаёт LLM провайдеров из конфигурации и распределяет
// разговоры между несколькими провайдерами.
package factory

import (
	"fmt"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/llm/openai"
)

// NewLLMProvider создает провайдера на основе конфигурации модели.
//
// Если в конфиге задан rate_limit, провайдер оборачивается в llm.Throttle.
func NewLLMProvider(modelDef config.ModelDef) (llm.Provider, error) {
	var provider llm.Provider

	switch modelDef.Provider {
	case "openai", "azure", "openrouter", "deepseek", "zai":
		provider = openai.NewClient(modelDef)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", modelDef.Provider)
	}

	if modelDef.RateLimit > 0 {
		limiter := llm.NewLimiter(modelDef.RateLimit, modelDef.BurstLimit)
		return llm.Throttle(provider, provider, limiter), nil
	}
	return provider, nil
}
