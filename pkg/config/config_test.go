package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ExpandsEnvAndParses(t *testing.T) {
	t.Setenv("CORTEX_TEST_KEY", "sk-secret")

	path := writeConfig(t, `
models:
  default_chat: gpt-4o
  summarizer: gpt-3.5-turbo
  definitions:
    gpt-4o:
      provider: openai
      model_name: gpt-4o
      api_key: ${CORTEX_TEST_KEY}
      timeout: 90s
      rate_limit: 60
    gpt-3.5-turbo:
      provider: openai
      model_name: gpt-3.5-turbo
      api_key: ${CORTEX_TEST_KEY}
agent:
  name: Scout
  budget: 3
budget:
  driver: sqlite
  dsn: /tmp/budget.db
tools:
  open_url:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	model, ok := cfg.GetChatModel("")
	require.True(t, ok)
	assert.Equal(t, "sk-secret", model.APIKey)
	assert.Equal(t, 90*time.Second, model.Timeout)
	assert.Equal(t, 60, model.RateLimit)

	assert.Equal(t, "Scout", cfg.Agent.Name)
	assert.Equal(t, 3, cfg.Agent.Budget)
	assert.False(t, cfg.ToolEnabled("open_url"))
	assert.True(t, cfg.ToolEnabled("web_search"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "no definitions",
			body:    "models:\n  default_chat: x\n",
			wantErr: "models.definitions is empty",
		},
		{
			name: "undefined summarizer",
			body: `
models:
  default_chat: a
  summarizer: b
  definitions:
    a: {model_name: a}
`,
			wantErr: "summarizer model 'b' is not defined",
		},
		{
			name: "sqlite without dsn",
			body: `
models:
  default_chat: a
  definitions:
    a: {model_name: a}
memory:
  driver: sqlite
`,
			wantErr: "memory.dsn is required",
		},
		{
			name: "unknown budget driver",
			body: `
models:
  default_chat: a
  definitions:
    a: {model_name: a}
budget:
  driver: redis
`,
			wantErr: "unknown budget.driver",
		},
		{
			name: "undefined pool model",
			body: `
models:
  default_chat: a
  pool: [a, c]
  definitions:
    a: {model_name: a}
`,
			wantErr: "pool model 'c' is not defined",
		},
		{
			name: "unknown balancer",
			body: `
models:
  default_chat: a
  balancer: random
  definitions:
    a: {model_name: a}
`,
			wantErr: "unknown models.balancer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestGetDefaults(t *testing.T) {
	agent := (&AgentConfig{}).GetDefaults()
	require.NotNil(t, agent.SummarizeHistory)
	assert.True(t, *agent.SummarizeHistory)
	assert.Equal(t, uint32(1<<31-1), agent.Capability)
	assert.Equal(t, 10, agent.Budget)

	off := false
	agent = (&AgentConfig{SummarizeHistory: &off}).GetDefaults()
	assert.False(t, *agent.SummarizeHistory)

	budget := (&BudgetConfig{}).GetDefaults()
	assert.Equal(t, "memory", budget.Driver)
	assert.Equal(t, 168*time.Hour, budget.TTL)

	mem := (&MemoryConfig{}).GetDefaults()
	assert.Equal(t, 1536, mem.Dimensions)
	assert.Equal(t, 3, mem.TopK)

	search := (&SearchConfig{}).GetDefaults()
	assert.Equal(t, "30s", search.Timeout)
	assert.Equal(t, 3, search.RetryAttempts)
}
