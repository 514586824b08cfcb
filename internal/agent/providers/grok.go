package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/toolconv"
)

// GrokConfig configures the Grok provider.
type GrokConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// GrokProvider implements agent.LLMProvider for xAI's Grok chat-completions
// API: OpenAI-compatible request/response shapes over raw HTTP, with a
// separate tokenize-text endpoint for token counting.
type GrokProvider struct {
	client          *http.Client
	apiKey          string
	baseURL         string
	chatEndpoint    string
	tokenizeURL     string
	defaultModel    string
}

var _ agent.LLMProvider = (*GrokProvider)(nil)
var _ TokenCounter = (*GrokProvider)(nil)

// NewGrokProvider creates a new Grok provider.
func NewGrokProvider(cfg GrokConfig) *GrokProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GrokProvider{
		client:       &http.Client{Timeout: timeout},
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		chatEndpoint: baseURL + "/chat/completions",
		tokenizeURL:  baseURL + "/tokenize-text",
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (p *GrokProvider) Name() string { return "grok" }

func (p *GrokProvider) Models() []agent.Model {
	if p.defaultModel == "" {
		return nil
	}
	return []agent.Model{{ID: p.defaultModel, Name: p.defaultModel}}
}

func (p *GrokProvider) SupportsTools() bool { return true }

func (p *GrokProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("grok", req.Model, errors.New("model is required"))
	}

	resp, err := p.post(ctx, p.chatEndpoint, p.chatPayload(model, req, true))
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.streamResponse(ctx, resp.Body, chunks, model)
	return chunks, nil
}

func (p *GrokProvider) CountTokens(ctx context.Context, req *agent.CompletionRequest) (int, error) {
	var b strings.Builder
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, m.Content)
	}
	resp, err := p.post(ctx, p.tokenizeURL, map[string]any{"text": b.String()})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, NewProviderError("grok", req.Model, fmt.Errorf("decode tokenize response: %w", err))
	}
	for _, key := range []string{"total_tokens", "token_count", "num_tokens"} {
		if v, ok := payload[key].(float64); ok {
			return int(v), nil
		}
	}
	if tokens, ok := payload["tokens"].([]any); ok {
		return len(tokens), nil
	}
	return 0, NewProviderError("grok", req.Model, errors.New("tokenize response missing token count"))
}

func (p *GrokProvider) chatPayload(model string, req *agent.CompletionRequest, stream bool) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": buildOpenAIStyleMessages(req),
		"stream":   stream,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		payload["tools"] = toolconv.ToOpenAITools(req.Tools)
	}
	return payload
}

func (p *GrokProvider) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("grok", "", fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("grok", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("grok", "", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("grok", "", fmt.Errorf("grok status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}
	return resp, nil
}

func (p *GrokProvider) streamResponse(ctx context.Context, body io.ReadCloser, out chan *agent.CompletionChunk, model string) {
	defer close(out)
	defer body.Close()

	err := DecodeSSEStream(body, func(ev StreamEvent) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch ev.Kind {
		case StreamEventText:
			out <- &agent.CompletionChunk{Text: ev.Text}
		case StreamEventError:
			out <- &agent.CompletionChunk{Error: NewProviderError("grok", model, errors.New(ev.Err)), Done: true}
		case StreamEventDone:
			out <- &agent.CompletionChunk{Done: true}
		}
	})
	if err != nil {
		out <- &agent.CompletionChunk{Error: NewProviderError("grok", model, err), Done: true}
	}
}

// buildOpenAIStyleMessages converts a CompletionRequest into the
// role/content message array shared by every OpenAI-compatible chat API
// (Grok included), folding the system prompt in as the leading message.
func buildOpenAIStyleMessages(req *agent.CompletionRequest) []map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	return msgs
}
