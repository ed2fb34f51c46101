package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

const (
	anthropicName = "anthropic"
	// Anthropic rejects temperatures above 1.
	anthropicMaxTemperature = 1.0
)

type anthropicProvider struct {
	client    anthropic.Client
	apiKey    string
	model     string
	maxTokens int
}

func newAnthropicProvider(cfg config.LLMProviderConfig) (*anthropicProvider, error) {
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return buildAnthropicProvider(cfg.APIKey, cfg.Model, cfg.MaxTokens, opts...)
}

func newAnthropicProviderForTest(apiKey, model string, maxTokens int, baseURL string, httpClient *http.Client) (*anthropicProvider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return buildAnthropicProvider(apiKey, model, maxTokens,
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
	)
}

func buildAnthropicProvider(apiKey, model string, maxTokens int, extra ...option.RequestOption) (*anthropicProvider, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	apiKey = strings.TrimSpace(apiKey)

	// Retries belong to the caller, so the SDK must not absorb failed attempts.
	opts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, extra...)

	return &anthropicProvider{
		client:    anthropic.NewClient(opts...),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Name returns the provider identifier used in usage and error reports.
func (p *anthropicProvider) Name() string { return anthropicName }

// ModelInfo returns the configured model.
func (p *anthropicProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: anthropicName, Model: p.model, MaxTokens: p.maxTokens}
}

// GenerateText sends one Messages API request and normalizes the response.
func (p *anthropicProvider) GenerateText(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if p.apiKey == "" {
		return nil, providererr.Classify(anthropicName, fmt.Errorf("anthropic: %w", providererr.ErrMissingAPIKey))
	}
	if err := req.Validate(); err != nil {
		return nil, providererr.Classify(anthropicName, err)
	}

	model := resolveModel(req.Model, p.model)
	body := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    toAnthropicMessages(req.conversation()),
		Temperature: anthropic.Float(min(req.Temperature, anthropicMaxTemperature)),
	}
	if req.SystemPrompt != "" {
		body.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.TopP != nil {
		body.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		body.StopSequences = req.StopSequences
	}

	msg, err := p.client.Messages.New(ctx, body)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var parts []string
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok && v.Text != "" {
			parts = append(parts, v.Text)
		}
	}

	respModel := string(msg.Model)
	if respModel == "" {
		respModel = model
	}
	return &GenerationResult{
		Text:         strings.Join(parts, "\n"),
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Model:        respModel,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// GenerateTextList issues count sequential generations.
func (p *anthropicProvider) GenerateTextList(ctx context.Context, req GenerationRequest, count int) ([]GenerationResult, error) {
	return generateSequential(ctx, p, req, count)
}

// IsAvailable lists one model as a liveness probe.
func (p *anthropicProvider) IsAvailable(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	return err == nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func anthropicFinishReason(stopReason string) FinishReason {
	switch stopReason {
	case "end_turn":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "stop_sequence":
		return FinishStopSequence
	case "tool_use":
		return FinishToolUse
	default:
		return FinishUnknown
	}
}

// classifyAnthropicError lifts SDK API errors into status errors before classification.
func classifyAnthropicError(err error) *providererr.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status := &providererr.StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		return &providererr.Error{
			Kind:     providererr.KindForStatus(apiErr.StatusCode),
			Provider: anthropicName,
			Message:  status.Error(),
			Cause:    err,
		}
	}
	return providererr.Classify(anthropicName, err)
}
