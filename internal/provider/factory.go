package provider

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/config"
)

// NewProviderFromConfig builds an LLM provider from the selected LLM profile.
// A profile without an api_key still builds; its calls fail with API_KEY_MISSING.
func NewProviderFromConfig(cfg config.LLMProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case anthropicName:
		p, err := newAnthropicProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case openRouterName:
		p, err := newOpenRouterProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// NewRouterFromConfig builds the provider for a profile and wraps it in a Router
// whose default timeout is the profile's request_timeout.
func NewRouterFromConfig(cfg config.LLMProviderConfig, opts RouterOptions) (*Router, error) {
	p, err := NewProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.RequestTimeout
	}
	return NewRouter(p, opts), nil
}
