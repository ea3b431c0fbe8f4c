// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. Unset funcs panic on call.
// All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error)

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
	requests      []provider.CompletionRequest
}

// Compile-time interface check.
var _ provider.Provider = (*MockProvider)(nil)

// Complete delegates to CompleteFunc, recording the request.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.completeCalls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Stream delegates to StreamFunc, recording the request.
func (m *MockProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	m.mu.Lock()
	m.streamCalls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

// ModelName identifies the mock in logs.
func (m *MockProvider) ModelName() string { return "mock" }

// CompleteCalls returns the number of Complete invocations.
func (m *MockProvider) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeCalls
}

// StreamCalls returns the number of Stream invocations.
func (m *MockProvider) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// Requests returns a copy of every recorded request in call order.
func (m *MockProvider) Requests() []provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// StaticStream returns a StreamFunc that emits the given chunks of
// content followed by a final usage chunk, then closes.
func StaticStream(usage provider.TokenUsage, chunks ...string) func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	return func(ctx context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk, len(chunks)+1)
		go func() {
			defer close(ch)
			for _, content := range chunks {
				select {
				case <-ctx.Done():
					ch <- provider.StreamChunk{Err: ctx.Err()}
					return
				case ch <- provider.StreamChunk{Content: content}:
				}
			}
			ch <- provider.StreamChunk{FinishReason: provider.FinishReasonStop, Usage: &usage}
		}()
		return ch, nil
	}
}
