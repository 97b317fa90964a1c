// Package budget ограничивает число вызовов функций на разговор.
//
// Бюджет - целочисленный счётчик во внешнем хранилище под ключом
// "{conversationID}:budget". Он переживает отдельный запрос и истекает
// через TTL (по умолчанию 7 дней).
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/utils"
)

// DefaultTTL - время жизни счётчика бюджета.
const DefaultTTL = 7 * 24 * time.Hour

// Store - хранилище счётчиков.
//
// DecrementIfAtLeast должен быть атомарным: проверка "значение ≥ amount"
// и уменьшение выполняются одной операцией хранилища, иначе параллельные
// ветки разговора могут увести счётчик в минус.
type Store interface {
	SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error
	// Get возвращает false для отсутствующего или истёкшего ключа.
	Get(ctx context.Context, key string) (int, bool, error)
	// DecrementIfAtLeast уменьшает значение на amount, если оно ≥ amount.
	// Возвращает false без изменений в противном случае.
	DecrementIfAtLeast(ctx context.Context, key string, amount int) (bool, error)
}

// Tracker - операции над бюджетом разговоров.
type Tracker struct {
	store Store
	ttl   time.Duration
}

// NewTracker создаёт трекер. ttl <= 0 означает DefaultTTL.
func NewTracker(store Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: store, ttl: ttl}
}

// Key возвращает ключ счётчика разговора.
func Key(conversationID string) string {
	return conversationID + ":budget"
}

// Acquire устанавливает бюджет разговора в n, перезаписывая прежнее значение.
func (t *Tracker) Acquire(ctx context.Context, conversationID string, n int) error {
	if n < 0 {
		return fmt.Errorf("budget must be non-negative, got %d", n)
	}
	if err := t.store.SetWithExpiry(ctx, Key(conversationID), n, t.ttl); err != nil {
		return fmt.Errorf("acquire budget: %w", err)
	}
	utils.Debug("Budget acquired", "conversation_id", conversationID, "budget", n)
	return nil
}

// Get возвращает остаток бюджета. Отсутствующий счётчик - это 0.
func (t *Tracker) Get(ctx context.Context, conversationID string) (int, error) {
	v, ok, err := t.store.Get(ctx, Key(conversationID))
	if err != nil {
		return 0, fmt.Errorf("get budget: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

// Consume списывает n единиц бюджета.
//
// Если остатка не хватает, счётчик не меняется и возвращается
// errkind.ErrInsufficientBudget. n должно быть положительным.
func (t *Tracker) Consume(ctx context.Context, conversationID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("consume amount must be positive, got %d", n)
	}
	ok, err := t.store.DecrementIfAtLeast(ctx, Key(conversationID), n)
	if err != nil {
		return fmt.Errorf("consume budget: %w", err)
	}
	if !ok {
		utils.Info("Budget exhausted", "conversation_id", conversationID, "requested", n)
		return errkind.ErrInsufficientBudget
	}
	return nil
}
