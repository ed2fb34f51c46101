package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

const (
	openRouterName       = "openrouter"
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
)

type openRouterProvider struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

func newOpenRouterProvider(cfg config.LLMProviderConfig) (*openRouterProvider, error) {
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenRouterURL
	}
	return newOpenRouterProviderForTest(cfg.APIKey, cfg.Model, cfg.MaxTokens, baseURL, http.DefaultClient)
}

func newOpenRouterProviderForTest(apiKey, model string, maxTokens int, baseURL string, httpClient *http.Client) (*openRouterProvider, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openrouter model is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("openrouter base url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &openRouterProvider{
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		maxTokens:  maxTokens,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Name returns the provider identifier used in usage and error reports.
func (p *openRouterProvider) Name() string { return openRouterName }

// ModelInfo returns the configured model.
func (p *openRouterProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: openRouterName, Model: p.model, MaxTokens: p.maxTokens}
}

// GenerateText sends one chat completion request to OpenRouter and normalizes the response.
func (p *openRouterProvider) GenerateText(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if p.apiKey == "" {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("openrouter: %w", providererr.ErrMissingAPIKey))
	}
	if err := req.Validate(); err != nil {
		return nil, providererr.Classify(openRouterName, err)
	}

	temperature := req.Temperature
	payload := openRouterRequest{
		Model:       resolveModel(req.Model, p.model),
		Messages:    toOpenRouterMessages(req.conversation()),
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	if req.SystemPrompt != "" {
		payload.Messages = append([]openRouterMessage{{
			Role:    "system",
			Content: req.SystemPrompt,
		}}, payload.Messages...)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("marshal openrouter request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("build openrouter request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("openrouter request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("read openrouter response: %w", err))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, providererr.Classify(openRouterName, &providererr.StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		})
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("decode openrouter response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, providererr.Classify(openRouterName, fmt.Errorf("openrouter response has no choices: %w", providererr.ErrMalformedResponse))
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = payload.Model
	}
	return &GenerationResult{
		Text:         choice.Message.Content,
		FinishReason: openRouterFinishReason(choice.FinishReason),
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		CostUSD:      parseOptionalCost(parsed.Usage.Cost),
	}, nil
}

// GenerateTextList issues count sequential generations.
func (p *openRouterProvider) GenerateTextList(ctx context.Context, req GenerationRequest, count int) ([]GenerationResult, error) {
	return generateSequential(ctx, p, req, count)
}

// IsAvailable probes the model listing endpoint.
func (p *openRouterProvider) IsAvailable(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openRouterMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
		Cost             any `json:"cost"`
	} `json:"usage"`
}

func openRouterFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolUse
	default:
		return FinishUnknown
	}
}

func parseOptionalCost(raw any) *float64 {
	switch v := raw.(type) {
	case float64:
		out := v
		return &out
	case string:
		value := strings.TrimSpace(v)
		if value == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func toOpenRouterMessages(messages []Message) []openRouterMessage {
	out := make([]openRouterMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openRouterMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
