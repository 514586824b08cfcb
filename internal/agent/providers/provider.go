package providers

import (
	"context"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// Provider is the uniform contract every LLM backend is adapted to: a
// single blocking call, a streaming call, and a token estimate, independent
// of whatever shape the backend's own SDK or HTTP API uses internally.
//
// Generalized from agent.LLMProvider's Complete-based streaming contract,
// which every concrete provider in this package already implements; Provider
// adds the explicit non-streaming Generate and CountTokens operations that
// Complete alone doesn't expose.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *agent.CompletionRequest) (string, error)
	StreamGenerate(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error)
	CountTokens(ctx context.Context, req *agent.CompletionRequest) (int, error)
}

// charsPerToken is the rough estimate used when a backend exposes no
// tokenizer endpoint: 1 token is approximated as 4 characters of UTF-8 text.
const charsPerToken = 4

// EstimateTokens applies the 1-token-per-4-characters heuristic to a
// request's full rendered content (system prompt plus every message).
func EstimateTokens(req *agent.CompletionRequest) int {
	if req == nil {
		return 0
	}
	var n int
	n += len(req.System)
	for _, m := range req.Messages {
		n += len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			n += len(tr.Content)
		}
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// Adapter lifts any agent.LLMProvider to the Provider contract. Generate
// drains the streamed chunks into a single string; CountTokens falls back to
// EstimateTokens unless the wrapped provider also implements TokenCounter.
type Adapter struct {
	agent.LLMProvider
}

// TokenCounter is implemented by providers whose backend exposes a real
// tokenizer endpoint (e.g. a provider-hosted count_tokens API) rather than
// relying on the char/4 estimate.
type TokenCounter interface {
	CountTokens(ctx context.Context, req *agent.CompletionRequest) (int, error)
}

// NewAdapter wraps an existing LLMProvider so it satisfies Provider.
func NewAdapter(p agent.LLMProvider) *Adapter {
	return &Adapter{LLMProvider: p}
}

func (a *Adapter) Generate(ctx context.Context, req *agent.CompletionRequest) (string, error) {
	chunks, err := a.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return b.String(), chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

func (a *Adapter) StreamGenerate(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return a.Complete(ctx, req)
}

func (a *Adapter) CountTokens(ctx context.Context, req *agent.CompletionRequest) (int, error) {
	if tc, ok := a.LLMProvider.(TokenCounter); ok {
		return tc.CountTokens(ctx, req)
	}
	return EstimateTokens(req), nil
}
