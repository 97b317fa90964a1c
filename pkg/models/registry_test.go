package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/config"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		model      string
		maxTokens  int
		completion int
		image      int
	}{
		{"gpt-4o", 128000, 4096, 20971520},
		{"gpt-4o-mini-2024-07-18", 128000, 4096, 20971520},
		{"gpt-4-turbo-preview", 128000, 0, 0},
		{"gpt-4", 8192, 0, 0},
		{"gpt-4-32k", 32768, 0, 0},
		{SummarizerModel, 16385, 0, 0},
		{"text-embedding-3-small", 8191, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			spec, ok := c.Spec(tt.model)
			require.True(t, ok)
			assert.Equal(t, tt.model, spec.Name)
			assert.Equal(t, tt.maxTokens, spec.MaxTokens)
			assert.Equal(t, tt.completion, spec.MaxCompletionTokens)
			assert.Equal(t, tt.image, spec.ImageSizeLimit)
		})
	}

	p, ok := c.Prices("gpt-4o-mini")
	require.True(t, ok)
	assert.InDelta(t, 0.00015/1000, p.Prompt, 1e-15)
	assert.InDelta(t, 0.000075/1000, p.Completion, 1e-15)
}

func TestCatalog_ResolveSpec(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, 8192, c.ResolveSpec("gpt-4", 0, 0).MaxTokens)
	assert.Equal(t, 4000, c.ResolveSpec("gpt-4", 4000, 0).MaxTokens)
	assert.Equal(t, 8192, c.ResolveSpec("local-llama", 0, 0).MaxTokens)
	assert.Equal(t, 512, c.ResolveSpec("gpt-4o", 0, 512).MaxCompletionTokens)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("chat", ModelEntry{Config: config.ModelDef{ModelName: "gpt-4"}}))
	assert.ErrorContains(t, r.Register("chat", ModelEntry{}), "already registered")

	entry, err := r.Get("chat")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", entry.Config.ModelName)

	_, err = r.Get("missing")
	assert.Error(t, err)

	_, name, err := r.GetWithFallback("missing", "chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", name)

	_, _, err = r.GetWithFallback("a", "b")
	assert.Error(t, err)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := &config.AppConfig{Models: config.ModelsConfig{
		DefaultChat: "main",
		Definitions: map[string]config.ModelDef{
			"main":    {Provider: "openai", ModelName: "gpt-4o", APIKey: "k"},
			"summary": {Provider: "openai", ModelName: "gpt-3.5-turbo", APIKey: "k", ContextWindow: 4096},
		},
	}}

	r, err := NewRegistryFromConfig(cfg, DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "summary"}, r.ListNames())

	main, err := r.Get("main")
	require.NoError(t, err)
	assert.Equal(t, 128000, main.Spec.MaxTokens)
	assert.NotNil(t, main.Provider)

	summary, err := r.Get("summary")
	require.NoError(t, err)
	assert.Equal(t, 4096, summary.Spec.MaxTokens)

	cfg.Models.Definitions["bad"] = config.ModelDef{Provider: "nope"}
	_, err = NewRegistryFromConfig(cfg, DefaultCatalog())
	assert.Error(t, err)
}
