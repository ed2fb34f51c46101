package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), ".interviewer")
	t.Setenv("INTERVIEWER_HOME", home)
	return home
}

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// backendConfig points every backend at one fake server.
func backendConfig(serverURL string) string {
	return `
[llm.default]
api_key = "or-test"
provider = "openrouter"
model = "deepseek/deepseek-chat"
base_url = "` + serverURL + `/api/v1"

[transcription]
api_key = "xi-test"
base_url = "` + serverURL + `/v1"
price_per_hour = 0.36

[interview]
response_timeout = "1m"
`
}

// fakeBackends serves the OpenRouter and ElevenLabs endpoints the commands call.
func fakeBackends(t *testing.T, transcript string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/chat/completions":
			_, _ = w.Write([]byte(`{
				"model":"deepseek/deepseek-chat",
				"choices":[{"message":{"role":"assistant","content":"hello from llm"},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8,"cost":"0.0002"}
			}`))
		case "/api/v1/models", "/v1/models":
			_, _ = w.Write([]byte(`{"data":[]}`))
		case "/v1/speech-to-text":
			_, _ = w.Write([]byte(`{
				"language_code":"en",
				"language_probability":0.9,
				"text":"` + transcript + `",
				"words":[{"text":"` + transcript + `","start":0,"end":10,"type":"word","logprob":0}]
			}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAudio(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake-audio-bytes"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

// syncBuffer is written by the session recorder and the prompt reader concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func assertContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
