package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/cortex/pkg/llm"
)

const testDimensions = 3

type fullStore interface {
	Store
	Transcript() TranscriptStore
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testStores возвращает все реализации. Postgres подключается только если
// задан CORTEX_TEST_POSTGRES_DSN.
func testStores(t *testing.T) map[string]fullStore {
	t.Helper()
	out := map[string]fullStore{
		"inmemory": NewInMemoryStore(time.Hour),
		"sqlite":   newSQLite(t),
	}
	if dsn := os.Getenv("CORTEX_TEST_POSTGRES_DSN"); dsn != "" {
		ctx := context.Background()
		pg, err := NewPostgresStore(ctx, dsn, testDimensions, time.Hour)
		require.NoError(t, err)
		_, err = pg.pool.Exec(ctx, `TRUNCATE memory_records, transcript_messages`)
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		out["postgres"] = pg
	}
	return out
}

func TestStore_SaveQueryGet(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			h1, err := s.Save(ctx, "conv-a", "k1", []float32{1, 0, 0}, []byte("first"), expires)
			require.NoError(t, err)
			_, err = s.Save(ctx, "conv-a", "k2", []float32{0, 1, 0}, []byte("second"), expires)
			require.NoError(t, err)
			_, err = s.Save(ctx, "conv-b", "k1", []float32{1, 0, 0}, []byte("other conversation"), expires)
			require.NoError(t, err)

			matches, err := s.Query(ctx, "conv-a", []float32{1, 0.1, 0}, 3)
			require.NoError(t, err)
			require.Len(t, matches, 2, "scoped to conversation")
			assert.Equal(t, "first", string(matches[0].Payload))
			assert.Equal(t, "k1", matches[0].Key)
			assert.Greater(t, matches[0].Similarity, 0.99)
			assert.Less(t, matches[1].Similarity, 0.2)
			assert.False(t, matches[0].CreatedAt.IsZero())

			payload, err := s.GetByHandle(ctx, h1)
			require.NoError(t, err)
			assert.Equal(t, "first", string(payload))

			_, err = s.GetByHandle(ctx, "00000000-0000-0000-0000-000000000000")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_QueryLimitAndExpiry(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				_, err := s.Save(ctx, "c", "k", []float32{1, float32(i), 0}, []byte("x"), time.Now().Add(time.Hour))
				require.NoError(t, err)
			}
			expired, err := s.Save(ctx, "c", "k", []float32{1, 0, 0}, []byte("old"), time.Now().Add(-time.Second))
			require.NoError(t, err)

			matches, err := s.Query(ctx, "c", []float32{1, 0, 0}, 3)
			require.NoError(t, err)
			assert.Len(t, matches, 3)
			for _, m := range matches {
				assert.NotEqual(t, "old", string(m.Payload))
			}

			_, err = s.GetByHandle(ctx, expired)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTranscriptStore(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			tr := s.Transcript()

			first := []llm.Message{
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Type: "function", Name: "web_search", Arguments: `{"query":"go"}`}}},
				{Role: llm.RoleTool, ToolCallID: "call_1", Name: "web_search", Content: "results"},
			}
			require.NoError(t, tr.Save(ctx, "conv", first))
			require.NoError(t, tr.Save(ctx, "conv", []llm.Message{llm.NewTextMessage(llm.RoleAssistant, "done")}))
			require.NoError(t, tr.Save(ctx, "other", []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}))

			got, err := tr.Load(ctx, "conv")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, first[0], got[0])
			assert.Equal(t, first[1], got[1])
			assert.Equal(t, "done", got[2].Content)
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
