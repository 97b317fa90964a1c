// Package cache - семантический кэш результатов функций.
//
// Ключ вызова (обычно JSON {"name","arguments"}) превращается в эмбеддинг;
// поиск идёт по ближайшим соседям в пределах разговора. Совпадение с
// близостью не ниже порога функции возвращается вместо живого вызова.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ilkoid/cortex/pkg/ledger"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/memory"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/utils"
)

const (
	// DefaultTopK - сколько соседей запрашивается у хранилища.
	DefaultTopK = 3

	// DefaultTTL - срок жизни записи кэша.
	DefaultTTL = 7 * 24 * time.Hour

	// similarityEpsilon поглощает погрешность float при пороге 1.0:
	// одинаковые тексты дают одинаковые векторы, но косинус может выйти 0.9999999.
	similarityEpsilon = 1e-6
)

// Options - параметры кэша.
type Options struct {
	// Model - модель эмбеддингов, она же ключ в журнале расхода.
	Model string
	// Namespace - префикс идентификатора разговора ("{ns}:{id}").
	Namespace string
	TopK      int
}

// Cache связывает провайдера эмбеддингов с векторным хранилищем.
type Cache struct {
	store    memory.Store
	embedder llm.EmbeddingProvider
	encoder  tokenizer.Encoder
	opts     Options
}

// New создаёт кэш.
func New(store memory.Store, embedder llm.EmbeddingProvider, encoder tokenizer.Encoder, opts Options) *Cache {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Cache{store: store, embedder: embedder, encoder: encoder, opts: opts}
}

// ConversationKey возвращает идентификатор разговора с учётом namespace.
func (c *Cache) ConversationKey(conversationID string) string {
	if c.opts.Namespace == "" {
		return conversationID
	}
	return c.opts.Namespace + ":" + conversationID
}

// embed строит эмбеддинг ключа и списывает токены в журнал.
func (c *Cache) embed(ctx context.Context, key string, l *ledger.Ledger) ([]float32, error) {
	vec, err := c.embedder.CreateEmbedding(ctx, key, c.opts.Model)
	if err != nil {
		return nil, fmt.Errorf("embed cache key: %w", err)
	}
	if l != nil {
		l.AddEmbeddingTokens(c.opts.Model, c.encoder.Count(key))
	}
	return vec, nil
}

// Lookup ищет сохранённый результат для ключа.
//
// Из соседей с близостью ≥ threshold выбирается самый свежий; при равном
// времени - самый близкий. hit=false если таких нет.
func (c *Cache) Lookup(ctx context.Context, conversationID, key string, threshold float64, l *ledger.Ledger) ([]byte, bool, error) {
	vec, err := c.embed(ctx, key, l)
	if err != nil {
		return nil, false, err
	}

	matches, err := c.store.Query(ctx, c.ConversationKey(conversationID), vec, c.opts.TopK)
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}

	var best *memory.Match
	for i := range matches {
		m := &matches[i]
		if m.Similarity+similarityEpsilon < threshold {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}

	if best == nil {
		utils.Debug("Cache miss", "conversation_id", conversationID, "candidates", len(matches), "threshold", threshold)
		return nil, false, nil
	}

	utils.Debug("Cache hit", "conversation_id", conversationID, "similarity", best.Similarity, "handle", best.Handle)
	return best.Payload, true, nil
}

// Put сохраняет результат и возвращает handle записи. ttl <= 0 означает DefaultTTL.
func (c *Cache) Put(ctx context.Context, conversationID, key string, payload []byte, ttl time.Duration, l *ledger.Ledger) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	vec, err := c.embed(ctx, key, l)
	if err != nil {
		return "", err
	}

	handle, err := c.store.Save(ctx, c.ConversationKey(conversationID), key, vec, payload, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("save cache entry: %w", err)
	}
	return handle, nil
}

// Get читает запись по handle.
func (c *Cache) Get(ctx context.Context, handle string) ([]byte, error) {
	return c.store.GetByHandle(ctx, handle)
}
