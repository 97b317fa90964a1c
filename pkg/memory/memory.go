// Package memory хранит то, что разговор должен помнить между раундами:
// векторные записи для семантического кэша и транскрипт сообщений.
//
// Все хранилища изолируют данные по идентификатору разговора и
// удаляют записи после истечения срока.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ilkoid/cortex/pkg/llm"
)

// DefaultTTL - время жизни записей и транскрипта.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNotFound возвращается GetByHandle для отсутствующей или истёкшей записи.
var ErrNotFound = errors.New("memory record not found")

// Match - результат поиска ближайших соседей.
type Match struct {
	Handle     string
	Key        string
	Payload    []byte
	Similarity float64 // косинусная близость, 1 = совпадение
	CreatedAt  time.Time
}

// Store - векторное хранилище.
type Store interface {
	// Save сохраняет запись и возвращает её handle.
	Save(ctx context.Context, conversationID, key string, embedding []float32, payload []byte, expiresAt time.Time) (string, error)

	// Query возвращает до k ближайших записей разговора по убыванию близости.
	Query(ctx context.Context, conversationID string, embedding []float32, k int) ([]Match, error)

	// GetByHandle читает payload записи.
	GetByHandle(ctx context.Context, handle string) ([]byte, error)
}

// TranscriptStore - журнал сообщений разговора.
type TranscriptStore interface {
	// Save дописывает сообщения в конец транскрипта.
	Save(ctx context.Context, conversationID string, messages []llm.Message) error

	// Load возвращает транскрипт в порядке записи.
	Load(ctx context.Context, conversationID string) ([]llm.Message, error)
}

// CosineSimilarity считает косинусную близость двух векторов.
// Для векторов разной длины или нулевых векторов возвращает 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK сортирует совпадения по убыванию близости (при равенстве - новые
// первыми) и обрезает до k.
func topK(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
