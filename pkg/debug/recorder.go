package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/cortex/pkg/events"
)

// Recorder записывает трейс выполнения запроса и сохраняет в JSON файл.
//
// Потокобезопасен: индикация параллельных веток приходит из разных горутин.
type Recorder struct {
	mu sync.Mutex

	config RecorderConfig
	trace  Trace
	start  time.Time
	now    func() time.Time
}

// RecorderConfig конфигурация для создания Recorder.
type RecorderConfig struct {
	// LogsDir - директория для сохранения трейсов
	LogsDir string

	// MaxResponseSize - максимальный размер ответа (превышение обрезается)
	// 0 означает без ограничений
	MaxResponseSize int
}

// NewRecorder создает новый Recorder для запроса разговора conversationID.
//
// Если LogsDir не существует, пытается создать её.
func NewRecorder(cfg RecorderConfig, conversationID, model string, messages int) (*Recorder, error) {
	if cfg.LogsDir != "" {
		if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	start := time.Now()
	runID := fmt.Sprintf("run_%s_%s_%s",
		start.Format("20060102_150405"), sanitize(conversationID), uuid.NewString()[:8])

	return &Recorder{
		config: cfg,
		start:  start,
		now:    time.Now,
		trace: Trace{
			RunID:          runID,
			ConversationID: conversationID,
			Model:          model,
			Timestamp:      start,
			Messages:       messages,
		},
	}, nil
}

// Report реализует events.Reporter.
func (r *Recorder) Report(_ context.Context, message string, stage events.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace.Events = append(r.trace.Events, Event{
		Offset:  r.now().Sub(r.start).Milliseconds(),
		Stage:   stage.String(),
		Message: message,
	})
}

// Wrap возвращает Reporter, который пишет в трейс и передаёт дальше в next.
// next может быть nil.
func (r *Recorder) Wrap(next events.Reporter) events.Reporter {
	if next == nil {
		return r
	}
	return events.ReporterFunc(func(ctx context.Context, message string, stage events.Stage) {
		r.Report(ctx, message, stage)
		next.Report(ctx, message, stage)
	})
}

// Finalize дописывает итог запроса и сохраняет трейс в файл.
//
// Возвращает путь к сохраненному файлу или ошибку.
func (r *Recorder) Finalize(out Outcome) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace.Calls = out.Calls
	r.trace.Ledger = out.Ledger
	r.trace.Cost = out.Cost
	r.trace.Response = out.Response
	if limit := r.config.MaxResponseSize; limit > 0 && len(out.Response) > limit {
		r.trace.Response = out.Response[:limit] + "... (truncated)"
		r.trace.ResponseTruncated = true
	}
	if out.Err != nil {
		r.trace.Error = out.Err.Error()
	}
	r.trace.Duration = r.now().Sub(r.start).Milliseconds()

	data, err := json.MarshalIndent(r.trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}

	filePath := r.filePath()
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write trace: %w", err)
	}
	return filePath, nil
}

func (r *Recorder) filePath() string {
	if r.config.LogsDir != "" {
		return filepath.Join(r.config.LogsDir, r.trace.RunID+".json")
	}
	return r.trace.RunID + ".json"
}

// RunID возвращает идентификатор текущего запуска.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace.RunID
}

// sanitize оставляет в идентификаторе только символы, безопасные для имени файла.
func sanitize(id string) string {
	if id == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

var _ events.Reporter = (*Recorder)(nil)
