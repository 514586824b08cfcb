package providers

import (
	"context"
	"errors"

	"github.com/haasonsaas/nexus/internal/agent"
)

// ZAiEndpointProfile selects which of Z.AI's two API surfaces a ZAiProvider
// talks to: the general chat endpoint or the coding-specialized one.
type ZAiEndpointProfile string

const (
	ZAiProfileGeneral ZAiEndpointProfile = "general"
	ZAiProfileCoding   ZAiEndpointProfile = "coding"
)

// ZAiConfig configures the Z.AI provider.
type ZAiConfig struct {
	APIKey          string
	DefaultModel    string
	GeneralBaseURL  string
	CodingBaseURL   string
	Profile         ZAiEndpointProfile
}

// ZAiProvider implements agent.LLMProvider for Z.AI by delegating to two
// independently configured GrokProvider-shaped backends (Z.AI's API is
// OpenAI-compatible, identical in shape to Grok's), one per endpoint
// profile, and routing every call to whichever profile is active.
//
// Grounded on ZAiProvider wrapping two OpenAiProvider instances and
// dispatching through Profile rather than implementing HTTP itself.
type ZAiProvider struct {
	general *GrokProvider
	coding  *GrokProvider
	profile ZAiEndpointProfile
}

var _ agent.LLMProvider = (*ZAiProvider)(nil)
var _ TokenCounter = (*ZAiProvider)(nil)

// NewZAiProvider creates a new Z.AI provider.
func NewZAiProvider(cfg ZAiConfig) (*ZAiProvider, error) {
	if cfg.GeneralBaseURL == "" || cfg.CodingBaseURL == "" {
		return nil, errors.New("zai: both general and coding base URLs are required")
	}
	profile := cfg.Profile
	if profile == "" {
		profile = ZAiProfileGeneral
	}
	return &ZAiProvider{
		general: NewGrokProvider(GrokConfig{APIKey: cfg.APIKey, BaseURL: cfg.GeneralBaseURL, DefaultModel: cfg.DefaultModel}),
		coding:  NewGrokProvider(GrokConfig{APIKey: cfg.APIKey, BaseURL: cfg.CodingBaseURL, DefaultModel: cfg.DefaultModel}),
		profile: profile,
	}, nil
}

func (p *ZAiProvider) active() *GrokProvider {
	if p.profile == ZAiProfileCoding {
		return p.coding
	}
	return p.general
}

func (p *ZAiProvider) Name() string { return "zai:" + string(p.profile) }

func (p *ZAiProvider) Models() []agent.Model { return p.active().Models() }

func (p *ZAiProvider) SupportsTools() bool { return p.active().SupportsTools() }

func (p *ZAiProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.active().Complete(ctx, req)
}

func (p *ZAiProvider) CountTokens(ctx context.Context, req *agent.CompletionRequest) (int, error) {
	return p.active().CountTokens(ctx, req)
}
