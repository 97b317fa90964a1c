// Package llm provides options pattern for completion request parameters.
//
// Defaults match what the agent loop sends on every round trip:
// temperature=1, top_p=1, n=1.
package llm

// RequestOption is a functional option for configuring CompletionRequest.
type RequestOption func(*CompletionRequest)

// NewRequest builds a CompletionRequest with loop defaults applied first
// and the given options applied on top.
func NewRequest(model string, messages []Message, opts ...RequestOption) CompletionRequest {
	req := CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 1,
		TopP:        1,
		N:           1,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// WithTools attaches tool definitions and enables automatic tool choice.
// An empty slice leaves the request without tools.
func WithTools(defs []ToolDefinition) RequestOption {
	return func(r *CompletionRequest) {
		if len(defs) == 0 {
			return
		}
		r.Tools = defs
		r.ToolChoice = "auto"
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) RequestOption {
	return func(r *CompletionRequest) {
		r.Temperature = temp
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(r *CompletionRequest) {
		r.TopP = topP
	}
}

// WithN sets the number of choices requested.
func WithN(n int) RequestOption {
	return func(r *CompletionRequest) {
		r.N = n
	}
}

// WithMaxCompletionTokens limits the response length. Zero means provider default.
func WithMaxCompletionTokens(tokens int) RequestOption {
	return func(r *CompletionRequest) {
		r.MaxCompletionTokens = tokens
	}
}
