package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

func TestOpenRouterProviderGenerateText_RequestAndResponse(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"deepseek/deepseek-chat",
			"choices":[
				{"message":{"role":"assistant","content":"What is a goroutine leak?"},"finish_reason":"length"}
			],
			"usage":{"prompt_tokens":11,"completion_tokens":7,"total_tokens":18,"cost":"0.0004"}
		}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("test-key", "deepseek/deepseek-chat", 8192, srv.URL+"/api/v1", srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	topP := 0.9
	res, err := p.GenerateText(context.Background(), GenerationRequest{
		SystemPrompt: "be concise",
		MaxTokens:    123,
		Temperature:  1.5,
		TopP:         &topP,
		Messages: []Message{
			{Role: RoleUser, Content: "ask me about go"},
		},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotReq["model"] != "deepseek/deepseek-chat" {
		t.Fatalf("unexpected model in request: %#v", gotReq["model"])
	}
	if int(gotReq["max_tokens"].(float64)) != 123 {
		t.Fatalf("unexpected max_tokens: %#v", gotReq["max_tokens"])
	}
	if gotReq["temperature"].(float64) != 1.5 {
		t.Fatalf("expected temperature passed through, got %#v", gotReq["temperature"])
	}
	msgs := gotReq["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system message first, got %#v", msgs)
	}

	if res.Text != "What is a goroutine leak?" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if res.FinishReason != FinishLength {
		t.Fatalf("expected length finish reason, got %q", res.FinishReason)
	}
	if res.InputTokens != 11 || res.OutputTokens != 7 {
		t.Fatalf("unexpected usage: %+v", res)
	}
	if res.CostUSD == nil || *res.CostUSD != 0.0004 {
		t.Fatalf("expected reported cost, got %v", res.CostUSD)
	}
}

func TestOpenRouterProviderGenerateText_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   providererr.Kind
	}{
		{name: "rate limit", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, want: providererr.KindRateLimitExceeded},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, want: providererr.KindAPIUnavailable},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, want: providererr.KindInvalidRequest},
		{name: "malformed", status: http.StatusOK, body: `{"choices":`, want: providererr.KindResponseParsingError},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, want: providererr.KindResponseParsingError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p, err := newOpenRouterProviderForTest("test-key", "m", 100, srv.URL, srv.Client())
			if err != nil {
				t.Fatalf("new provider: %v", err)
			}
			_, err = p.GenerateText(context.Background(), GenerationRequest{Prompt: "hi", MaxTokens: 10})
			if got := providererr.KindOf(err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
		})
	}
}

func TestOpenRouterProviderGenerateText_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := newOpenRouterProviderForTest("test-key", "m", 100, url, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.GenerateText(context.Background(), GenerationRequest{Prompt: "hi", MaxTokens: 10})
	if got := providererr.KindOf(err); got != providererr.KindNetworkError {
		t.Fatalf("expected NETWORK_ERROR, got %s (%v)", got, err)
	}
}

func TestOpenRouterProviderGenerateTextList(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"q"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("test-key", "m", 100, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	results, err := p.GenerateTextList(context.Background(), GenerationRequest{Prompt: "hi", MaxTokens: 10}, 3)
	if err != nil {
		t.Fatalf("generate list: %v", err)
	}
	if len(results) != 3 || calls != 3 {
		t.Fatalf("expected 3 results from 3 calls, got %d results and %d calls", len(results), calls)
	}
	if _, err := p.GenerateTextList(context.Background(), GenerationRequest{Prompt: "hi", MaxTokens: 10}, 0); !providererr.Is(err, providererr.KindInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST for zero count, got %v", err)
	}
}

func TestOpenRouterProviderIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("test-key", "m", 100, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if !p.IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}

	bad, err := newOpenRouterProviderForTest("wrong", "m", 100, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if bad.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable with rejected key")
	}

	keyless, err := newOpenRouterProviderForTest("", "m", 100, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if keyless.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable without key")
	}
}
