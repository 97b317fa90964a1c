package errkind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"retryable", Retryable(errors.New("503")), KindRetryable},
		{"wrapped retryable", fmt.Errorf("call: %w", Retryable(errors.New("x"))), KindRetryable},
		{"budget", ErrInsufficientBudget, KindInsufficientBudget},
		{"wrapped budget", fmt.Errorf("loop: %w", ErrInsufficientBudget), KindInsufficientBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.err))
		})
	}
}

func TestRetryable_DoesNotDoubleWrap(t *testing.T) {
	base := errors.New("x")
	once := Retryable(base)
	twice := Retryable(once)

	assert.Same(t, once, twice)
	assert.True(t, errors.Is(twice, base))
	assert.Nil(t, Retryable(nil))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{409, 429, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "code %d", code)
	}
	for _, code := range []int{400, 401, 404, 500} {
		assert.False(t, RetryableStatus(code), "code %d", code)
	}
}

func TestRetryableCode(t *testing.T) {
	assert.True(t, RetryableCode("server_error"))
	assert.True(t, RetryableCode("rate_limit_exceeded"))
	assert.False(t, RetryableCode("invalid_request_error"))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(io.ErrUnexpectedEOF))
	assert.True(t, IsConnectionError(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsConnectionError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, IsConnectionError(errors.New("bad request")))
	assert.False(t, IsConnectionError(context.Canceled))
	assert.False(t, IsConnectionError(nil))
}
