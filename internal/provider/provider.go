// Package provider implements text generation backends and the router that accounts for their usage.
package provider

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FinishReason is the normalized reason a generation stopped.
type FinishReason string

const (
	FinishStop         FinishReason = "stop"
	FinishLength       FinishReason = "length"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishToolUse      FinishReason = "tool_use"
	FinishUnknown      FinishReason = "unknown"
)

// GenerationRequest is a provider-agnostic text generation request.
// Either Prompt or Messages must be set; Messages wins when both are.
type GenerationRequest struct {
	// Model overrides the provider's configured model when set.
	Model         string
	SystemPrompt  string
	Prompt        string
	Messages      []Message
	MaxTokens     int
	Temperature   float64
	TopP          *float64
	StopSequences []string
	// Timeout bounds one call; the router falls back to its own default.
	Timeout time.Duration
}

// GenerationResult is the normalized outcome of one generation.
type GenerationResult struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Model        string       `json:"model"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	// CostUSD is set only when the vendor reports spend itself.
	CostUSD *float64 `json:"cost_usd,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (r GenerationResult) TotalTokens() int {
	return max(r.InputTokens, 0) + max(r.OutputTokens, 0)
}

// ModelInfo describes the model a provider dispatches to.
type ModelInfo struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

// Provider is a text generation backend.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	GenerateTextList(ctx context.Context, req GenerationRequest, count int) ([]GenerationResult, error)
	// IsAvailable reports whether the backend answers a cheap probe. It never fails.
	IsAvailable(ctx context.Context) bool
	ModelInfo() ModelInfo
}

// Validate checks the request shape before anything is sent.
func (r GenerationRequest) Validate() error {
	if r.MaxTokens <= 0 {
		return providererr.New(providererr.KindInvalidRequest, "", "max_tokens must be > 0")
	}
	if math.IsNaN(r.Temperature) || r.Temperature < 0 || r.Temperature > 2 {
		return providererr.Newf(providererr.KindInvalidRequest, "", "temperature %v outside [0, 2]", r.Temperature)
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return providererr.Newf(providererr.KindInvalidRequest, "", "top_p %v outside (0, 1]", *r.TopP)
	}
	if len(r.Messages) == 0 {
		if strings.TrimSpace(r.Prompt) == "" {
			return providererr.New(providererr.KindInvalidRequest, "", "prompt or messages are required")
		}
		return nil
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant:
		default:
			return providererr.Newf(providererr.KindInvalidRequest, "", "message %d has unsupported role %q", i, msg.Role)
		}
	}
	return nil
}

// conversation returns the turns to send, turning a bare prompt into one user turn.
func (r GenerationRequest) conversation() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []Message{{Role: RoleUser, Content: r.Prompt}}
}

func resolveModel(requestModel, configuredModel string) string {
	if m := strings.TrimSpace(requestModel); m != "" {
		return m
	}
	return configuredModel
}

// generateSequential runs count generations one after another and stops at the first failure.
func generateSequential(ctx context.Context, p Provider, req GenerationRequest, count int) ([]GenerationResult, error) {
	if count <= 0 {
		return nil, providererr.Newf(providererr.KindInvalidRequest, p.Name(), "count must be > 0, got %d", count)
	}
	out := make([]GenerationResult, 0, count)
	for i := 0; i < count; i++ {
		res, err := p.GenerateText(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}
