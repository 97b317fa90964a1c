package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	p.calls++
	return &Completion{Message: NewTextMessage(RoleAssistant, "ok")}, nil
}

func (p *countingProvider) CreateCompletionStream(ctx context.Context, req CompletionRequest) (Stream, error) {
	p.calls++
	return NewMessageStream("ok"), nil
}

func TestThrottled_PassesThrough(t *testing.T) {
	inner := &countingProvider{}
	p := Throttle(inner, nil, NewLimiter(0, 0))

	c, err := p.CreateCompletion(context.Background(), NewRequest("m", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Message.Content)
	assert.Equal(t, 1, inner.calls)

	_, err = p.CreateEmbedding(context.Background(), "x", "m")
	assert.Error(t, err)
}

func TestThrottled_CancelledWait(t *testing.T) {
	inner := &countingProvider{}
	// один токен в burst, второй запрос должен ждать
	p := Throttle(inner, nil, rate.NewLimiter(rate.Limit(0.001), 1))

	_, err := p.CreateCompletion(context.Background(), NewRequest("m", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.CreateCompletion(ctx, NewRequest("m", nil))
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
