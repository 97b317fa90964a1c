// Package utils предоставляет простой файловый логгер и мелкие утилиты.
//
// Логгер пишет в файл через log/slog (текстовый формат key=value).
// До вызова InitLogger все сообщения отбрасываются, поэтому библиотечный
// код может логировать без проверки инициализации.
// Thread-safe: slog.Handler сериализует запись сам.
package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logMutex sync.Mutex
	logFile  *os.File
	logger   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// InitLogger открывает (или создаёт) лог-файл и направляет в него логи.
//
// Пустой path означает stderr. debug=true включает уровень DEBUG.
// Повторный вызов закрывает предыдущий файл.
func InitLogger(path string, debug bool) error {
	logMutex.Lock()
	defer logMutex.Unlock()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		closeFileLocked()
		logFile = f
		out = f
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	logger.Info("Logger initialized", "file", path, "debug", debug)
	return nil
}

// SetOutput направляет логи в произвольный writer. Используется в тестах.
func SetOutput(w io.Writer, level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Info - информационное сообщение.
func Info(msg string, keyvals ...any) {
	log(slog.LevelInfo, msg, keyvals...)
}

// Error - сообщение об ошибке.
func Error(msg string, keyvals ...any) {
	log(slog.LevelError, msg, keyvals...)
}

// Debug - отладочное сообщение.
func Debug(msg string, keyvals ...any) {
	log(slog.LevelDebug, msg, keyvals...)
}

// Warn - предупреждение.
func Warn(msg string, keyvals ...any) {
	log(slog.LevelWarn, msg, keyvals...)
}

func log(level slog.Level, msg string, keyvals ...any) {
	logMutex.Lock()
	l := logger
	logMutex.Unlock()

	l.Log(context.Background(), level, msg, keyvals...)
}

// Close закрывает лог-файл и возвращает логгер в режим отбрасывания.
//
// Вызывается через defer в main().
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()

	closeFileLocked()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeFileLocked() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		// Логгер уже закрывается, только stderr
		fmt.Fprintf(os.Stderr, "[LOGGER WARNING: Close failed: %v]\n", err)
	}
	logFile = nil
}
