// Package debug записывает трейсы выполнения запросов агента.
//
// Трейс сохраняется в JSON файл и содержит индикацию цикла агента
// (вызовы функций, начало ответа) с отметками времени, расход токенов,
// стоимость и финальный ответ или ошибку.
package debug

import (
	"time"

	"github.com/ilkoid/cortex/pkg/ledger"
)

// Trace - полный трейс одного запроса к агенту.
type Trace struct {
	// RunID - уникальный идентификатор запуска (используется в имени файла)
	RunID string `json:"run_id"`

	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model"`
	Timestamp      time.Time `json:"timestamp"`

	// Messages - число сообщений во входной истории
	Messages int `json:"messages"`

	// Events - индикация цикла в порядке поступления
	Events []Event `json:"events,omitempty"`

	// Calls - вызванные функции в порядке вызова
	Calls []string `json:"calls,omitempty"`

	Ledger ledger.Snapshot `json:"ledger"`
	Cost   float64         `json:"cost"`

	Response          string `json:"response,omitempty"`
	ResponseTruncated bool   `json:"response_truncated,omitempty"`
	Error             string `json:"error,omitempty"`

	// Duration - общая длительность в миллисекундах
	Duration int64 `json:"duration_ms"`
}

// Event - одно сообщение индикации.
type Event struct {
	// Offset - время от начала запроса в миллисекундах
	Offset  int64  `json:"offset_ms"`
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}

// Outcome - итог запроса, который дописывается в трейс.
type Outcome struct {
	Calls    []string
	Ledger   ledger.Snapshot
	Cost     float64
	Response string
	Err      error
}
