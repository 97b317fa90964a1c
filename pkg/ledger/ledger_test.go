package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/models"
)

func TestLedger_AccumulatesPerModel(t *testing.T) {
	l := New()
	l.AddPromptTokens("gpt-4", 100)
	l.AddPromptTokens("gpt-4", 50)
	l.AddCompletionTokens("gpt-4", 20)
	l.AddPromptTokens("gpt-3.5-turbo", 7)
	l.AddEmbeddingTokens("text-embedding-3-small", 3)
	l.AddGeneratedImages("hd-1024x1024", 1)
	l.AddProcessedAudioSeconds("whisper-1", 1.5)
	l.AddConvertedTextCharacters("tts-1", 42)

	s := l.Snapshot()
	assert.Equal(t, map[string]int{"gpt-4": 150, "gpt-3.5-turbo": 7}, s.PromptTokens)
	assert.Equal(t, 20, s.CompletionTokens["gpt-4"])
	assert.Equal(t, 3, s.EmbeddingTokens["text-embedding-3-small"])
	assert.Equal(t, 1, s.GeneratedImages["hd-1024x1024"])
	assert.InDelta(t, 1.5, s.ProcessedAudioSeconds["whisper-1"], 1e-9)
	assert.Equal(t, 42, s.ConvertedTextCharacters["tts-1"])
}

func TestLedger_Monotonic(t *testing.T) {
	l := New()
	l.AddPromptTokens("m", 10)
	l.AddPromptTokens("m", -5)
	l.AddPromptTokens("m", 0)
	l.AddProcessedAudioSeconds("w", -1)

	s := l.Snapshot()
	assert.Equal(t, 10, s.PromptTokens["m"])
	assert.NotContains(t, s.ProcessedAudioSeconds, "w")
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := New()
	l.AddPromptTokens("m", 1)
	s := l.Snapshot()
	s.PromptTokens["m"] = 999

	assert.Equal(t, 1, l.Snapshot().PromptTokens["m"])
}

func TestLedger_ConcurrentIncrements(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddPromptTokens("m", 2)
			l.AddCompletionTokens("m", 1)
		}()
	}
	wg.Wait()

	s := l.Snapshot()
	assert.Equal(t, 100, s.PromptTokens["m"])
	assert.Equal(t, 50, s.CompletionTokens["m"])
}

func TestSnapshot_Cost(t *testing.T) {
	l := New()
	l.AddPromptTokens("gpt-4", 1000)
	l.AddCompletionTokens("gpt-4", 1000)
	l.AddGeneratedImages("1024x1024", 2)
	l.AddPromptTokens("my-local-model", 10)

	cost, unknown := l.Snapshot().Cost(models.DefaultCatalog())
	// 1000*0.03/1000 + 1000*0.06/1000 + 2*0.02
	assert.InDelta(t, 0.13, cost, 1e-9)
	require.Len(t, unknown, 1)
	assert.Equal(t, "my-local-model", unknown[0])
}
