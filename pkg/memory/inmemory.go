package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/cortex/pkg/llm"
)

type record struct {
	conversationID string
	key            string
	embedding      []float32
	payload        []byte
	createdAt      time.Time
	expiresAt      time.Time
}

type transcriptEntry struct {
	message   llm.Message
	expiresAt time.Time
}

// InMemoryStore - процессная реализация Store и TranscriptStore.
type InMemoryStore struct {
	mu          sync.RWMutex
	records     map[string]record
	transcripts map[string][]transcriptEntry
	ttl         time.Duration
	now         func() time.Time
}

// NewInMemoryStore создаёт пустое хранилище. ttl задаёт срок жизни
// транскрипта; <= 0 означает DefaultTTL.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{
		records:     make(map[string]record),
		transcripts: make(map[string][]transcriptEntry),
		ttl:         ttl,
		now:         time.Now,
	}
}

// Save реализует Store.
func (s *InMemoryStore) Save(_ context.Context, conversationID, key string, embedding []float32, payload []byte, expiresAt time.Time) (string, error) {
	handle := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[handle] = record{
		conversationID: conversationID,
		key:            key,
		embedding:      append([]float32(nil), embedding...),
		payload:        append([]byte(nil), payload...),
		createdAt:      s.now(),
		expiresAt:      expiresAt,
	}
	return handle, nil
}

// Query реализует Store.
func (s *InMemoryStore) Query(_ context.Context, conversationID string, embedding []float32, k int) ([]Match, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for handle, r := range s.records {
		if r.conversationID != conversationID || !now.Before(r.expiresAt) {
			continue
		}
		matches = append(matches, Match{
			Handle:     handle,
			Key:        r.key,
			Payload:    r.payload,
			Similarity: CosineSimilarity(embedding, r.embedding),
			CreatedAt:  r.createdAt,
		})
	}
	return topK(matches, k), nil
}

// GetByHandle реализует Store.
func (s *InMemoryStore) GetByHandle(_ context.Context, handle string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[handle]
	if !ok || !s.now().Before(r.expiresAt) {
		return nil, ErrNotFound
	}
	return r.payload, nil
}

// SaveMessages дописывает сообщения в транскрипт разговора.
//
// Store и TranscriptStore оба объявляют Save с разными сигнатурами, поэтому
// транскрипт доступен через представление Transcript().
func (s *InMemoryStore) SaveMessages(_ context.Context, conversationID string, messages []llm.Message) error {
	expiresAt := s.now().Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.transcripts[conversationID] = append(s.transcripts[conversationID], transcriptEntry{message: m, expiresAt: expiresAt})
	}
	return nil
}

// LoadMessages возвращает живые сообщения транскрипта.
func (s *InMemoryStore) LoadMessages(_ context.Context, conversationID string) ([]llm.Message, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []llm.Message
	for _, e := range s.transcripts[conversationID] {
		if now.Before(e.expiresAt) {
			out = append(out, e.message)
		}
	}
	return out, nil
}

// Transcript возвращает представление хранилища как TranscriptStore.
func (s *InMemoryStore) Transcript() TranscriptStore {
	return inMemoryTranscript{s}
}

type inMemoryTranscript struct{ s *InMemoryStore }

func (t inMemoryTranscript) Save(ctx context.Context, conversationID string, messages []llm.Message) error {
	return t.s.SaveMessages(ctx, conversationID, messages)
}

func (t inMemoryTranscript) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	return t.s.LoadMessages(ctx, conversationID)
}

var (
	_ Store           = (*InMemoryStore)(nil)
	_ TranscriptStore = inMemoryTranscript{}
)
