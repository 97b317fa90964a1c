// Package errkind определяет таксономию ошибок агента.
//
// Ядро не форматирует пользовательские сообщения, но обязано отдавать
// вызывающему коду вид ошибки (Kind), а не только строку:
//   - KindRetryable: временный сбой upstream (сеть, 409/429/5xx, server_error)
//   - KindInsufficientBudget: бюджет разговора исчерпан, повтор бесполезен
//   - KindUnknown: всё остальное (фатально)
//
// Rule 7: ошибки возвращаются вверх по стеку, никаких panic.
package errkind

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind - вид ошибки для маппинга в пользовательские сообщения.
type Kind int

const (
	KindUnknown Kind = iota
	KindRetryable
	KindInsufficientBudget
)

// String возвращает строковое представление вида ошибки.
func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindInsufficientBudget:
		return "insufficient_budget"
	default:
		return "unknown"
	}
}

// ErrInsufficientBudget возвращается когда вызов инструмента не может быть
// оплачен из оставшегося бюджета разговора. Прерывает весь цикл агента.
var ErrInsufficientBudget = fmt.Errorf("insufficient budget")

// RetryableError оборачивает временную ошибку upstream.
//
// Поддерживает errors.Is() и errors.As() через Unwrap.
type RetryableError struct {
	Err error
}

// Error реализует error интерфейс.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable оборачивает err в RetryableError. nil остаётся nil,
// уже обёрнутая ошибка не оборачивается повторно.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return err
	}
	return &RetryableError{Err: err}
}

// IsRetryable проверяет, есть ли в цепочке RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsInsufficientBudget проверяет, что бюджет исчерпан.
func IsInsufficientBudget(err error) bool {
	return errors.Is(err, ErrInsufficientBudget)
}

// Of возвращает вид ошибки. Бюджет проверяется первым: это
// окончательное состояние разговора, даже если где-то в цепочке есть сетевой сбой.
func Of(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsInsufficientBudget(err):
		return KindInsufficientBudget
	case IsRetryable(err):
		return KindRetryable
	default:
		return KindUnknown
	}
}

// RetryableStatus сообщает, является ли HTTP статус временным сбоем.
func RetryableStatus(code int) bool {
	switch code {
	case 409, 429, 502, 503, 504:
		return true
	}
	return false
}

// RetryableCode сообщает, является ли код ошибки провайдера временным сбоем.
func RetryableCode(code string) bool {
	switch code {
	case "server_error", "rate_limit_exceeded":
		return true
	}
	return false
}

// IsConnectionError распознаёт сетевые сбои: таймауты, обрывы соединения,
// отказ в соединении, преждевременный EOF.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
