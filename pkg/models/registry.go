// Package models предоставляет справочник моделей и реестр LLM провайдеров.
//
// Реестр регистрирует все модели из config.yaml при старте; справочник
// даёт циклу агента окна контекста и цены.
//
// Rule 3: Registry pattern (similar to tools.Registry)
// Rule 5: Thread-safe via sync.RWMutex
package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/factory"
	"github.com/ilkoid/cortex/pkg/llm"
)

// Registry - потокобезопасное хранилище LLM провайдеров.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelEntry
}

// ModelEntry - провайдер с конфигурацией и лимитами модели.
type ModelEntry struct {
	Provider llm.Provider
	Config   config.ModelDef
	Spec     llm.ModelSpec
}

// NewRegistry создаёт новый пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]ModelEntry),
	}
}

// Register добавляет модель в реестр.
//
// Rule 7: Возвращает ошибку вместо panic.
func (r *Registry) Register(name string, entry ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model '%s' already registered", name)
	}
	r.models[name] = entry
	return nil
}

// Get извлекает модель по алиасу.
func (r *Registry) Get(name string) (ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.models[name]
	if !ok {
		return ModelEntry{}, fmt.Errorf("model '%s' not found in registry", name)
	}
	return entry, nil
}

// GetWithFallback извлекает модель с fallback на дефолтную.
//
// Возвращает (entry, actualModelName, error).
func (r *Registry) GetWithFallback(requested, defaultModel string) (ModelEntry, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.models[requested]; ok {
		return entry, requested, nil
	}
	if entry, ok := r.models[defaultModel]; ok {
		return entry, defaultModel, nil
	}
	return ModelEntry{}, "", fmt.Errorf("neither requested model '%s' nor default '%s' found in registry", requested, defaultModel)
}

// ListNames возвращает отсортированный список алиасов.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig создаёт и заполняет реестр из конфигурации.
//
// Лимиты каждой модели берутся из справочника по model_name; context_window
// и max_tokens из конфига их переопределяют.
func NewRegistryFromConfig(cfg *config.AppConfig, catalog Catalog) (*Registry, error) {
	registry := NewRegistry()

	for name, modelDef := range cfg.Models.Definitions {
		provider, err := factory.NewLLMProvider(modelDef)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider for model '%s': %w", name, err)
		}

		entry := ModelEntry{
			Provider: provider,
			Config:   modelDef,
			Spec:     catalog.ResolveSpec(modelDef.ModelName, modelDef.ContextWindow, modelDef.MaxTokens),
		}
		if err := registry.Register(name, entry); err != nil {
			return nil, fmt.Errorf("failed to register model '%s': %w", name, err)
		}
	}

	return registry, nil
}
