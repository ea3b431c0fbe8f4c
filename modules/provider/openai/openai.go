// Package openai provides an OpenAI-compatible completion provider. It
// works with any API implementing the OpenAI chat completions interface
// (OpenAI, Azure OpenAI, Mistral, Groq, vLLM, LiteLLM, etc.) via a
// configurable base_url.
package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider"
)

// Provider is an OpenAI-compatible completion provider.
type Provider struct {
	config Config
	client *http.Client
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// New creates a Provider from config. The API key may come from the
// config directly or from the environment variable it names.
func New(cfg Config) (*Provider, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider.openai: environment variable %s is empty", cfg.APIKeyEnv)
		}
	}
	return &Provider{
		config: cfg,
		// A response-header timeout instead of a global client timeout:
		// a global timeout kills long-running SSE streams, per-request
		// context handles cancellation.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}, nil
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	resp, err := p.doRequest(ctx, buildRequest(p.config.Model, req, false))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return provider.CompletionResponse{}, handleErrorResponse(resp)
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return parseResponse(oaiResp), nil
}

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	resp, err := p.doRequest(ctx, buildRequest(p.config.Model, req, true))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}

	// 1 MiB scanner buffer for long SSE lines.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ch := parseSSEStream(ctx, scanner)

	// Wrap to ensure the body gets closed when the stream ends. Select
	// on ctx.Done() to avoid a goroutine leak if the consumer abandons
	// the channel.
	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		for chunk := range ch {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Model
}
