package channels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/interview"
	"github.com/neoclaw-ai/interviewer/internal/transcription"
	"github.com/stretchr/testify/require"
)

const (
	testToken  = "tok"
	testUserID = int64(42)
	testChatID = int64(7)
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []sentMessage
	files    map[string]string
	getFiles int
}

func (f *fakeTelegram) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chatID, _ := params.ChatID.(int64)
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: params.Text})
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeTelegram) GetFile(_ context.Context, params *bot.GetFileParams) (*models.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFiles++
	path, ok := f.files[params.FileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return &models.File{FileID: params.FileID, FilePath: path}, nil
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeTelegram) hasText(want string) bool {
	for _, text := range f.texts() {
		if strings.Contains(text, want) {
			return true
		}
	}
	return false
}

type fakeTranscriber struct {
	mu    sync.Mutex
	audio []transcription.AudioAsset
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio transcription.AudioAsset, _ transcription.Options) (*transcription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
	return &transcription.Result{Text: "answer from " + audio.Filename}, nil
}

type harness struct {
	channel     *TelegramChannel
	api         *fakeTelegram
	transcriber *fakeTranscriber
	sessionsDir string
}

func newHarness(t *testing.T, maxAudio int64) *harness {
	t.Helper()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/bot"+testToken+"/voice/file_1.oga" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ogg-bytes"))
	}))
	t.Cleanup(files.Close)

	transcriber := &fakeTranscriber{}
	engine := interview.NewEngine(config.InterviewConfig{
		ResponseTimeout: time.Minute,
		MaxRetries:      1,
		TimeoutPolicy:   config.TimeoutPolicyReprompt,
	}, interview.QuestionBank{
		"intro": "Tell me about yourself.",
		"go":    "Why do you like Go?",
	}, transcriber, interview.EngineOptions{})
	t.Cleanup(engine.Close)

	sessionsDir := t.TempDir()
	api := &fakeTelegram{files: map[string]string{"voice-1": "voice/file_1.oga"}}
	ch := NewTelegram(engine, TelegramOptions{
		Token:        testToken,
		APIURL:       files.URL + "/",
		AllowedUsers: []string{" 42 "},
		QuestionIDs:  []string{"intro", "go"},
		TranscriptPath: func(id string) string {
			return filepath.Join(sessionsDir, id+".jsonl")
		},
		MaxAudioBytes: maxAudio,
		HTTPClient:    files.Client(),
	})
	ch.api = api
	return &harness{channel: ch, api: api, transcriber: transcriber, sessionsDir: sessionsDir}
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		From: &models.User{ID: userID, Username: "candidate"},
		Chat: models.Chat{ID: testChatID},
		Text: text,
	}}
}

func voiceUpdate(fileID string, size int64) *models.Update {
	return &models.Update{Message: &models.Message{
		From:  &models.User{ID: testUserID},
		Chat:  models.Chat{ID: testChatID},
		Voice: &models.Voice{FileID: fileID, MimeType: "audio/ogg", FileSize: size},
	}}
}

func (h *harness) waitForText(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.api.hasText(want) }, 2*time.Second, 5*time.Millisecond,
		"expected a message containing %q, got %q", want, h.api.texts())
}

func TestTelegram_FullInterview(t *testing.T) {
	h := newHarness(t, 1<<20)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/interview@interviewer_bot"))
	h.waitForText(t, "Interview started.")
	h.waitForText(t, "Tell me about yourself.")

	h.channel.handleUpdate(ctx, voiceUpdate("voice-1", 9))
	h.waitForText(t, "Heard: answer from voice.ogg")
	h.waitForText(t, "Why do you like Go?")

	h.channel.handleUpdate(ctx, voiceUpdate("voice-1", 9))
	h.waitForText(t, "Interview finished (interview complete)")

	require.Eventually(t, func() bool {
		_, live := h.channel.sessionFor(testChatID)
		return !live
	}, 2*time.Second, 5*time.Millisecond)

	h.transcriber.mu.Lock()
	require.Len(t, h.transcriber.audio, 2)
	require.Equal(t, "ogg-bytes", string(h.transcriber.audio[0].Data))
	require.Equal(t, "audio/ogg", h.transcriber.audio[0].ContentType)
	h.transcriber.mu.Unlock()

	for _, text := range h.api.texts() {
		require.NotContains(t, text, "transcribing", "progress markers are not sent to chat")
	}

	entries, err := os.ReadDir(h.sessionsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	raw, err := os.ReadFile(filepath.Join(h.sessionsDir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"SESSION_END"`)
}

func TestTelegram_IgnoresUnknownUsers(t *testing.T) {
	h := newHarness(t, 0)

	h.channel.handleUpdate(context.Background(), textUpdate(99, "/interview"))

	require.Empty(t, h.api.texts())
	_, live := h.channel.sessionFor(testChatID)
	require.False(t, live)
}

func TestTelegram_RepliesWithoutSession(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, voiceUpdate("voice-1", 9))
	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/status"))
	h.channel.handleUpdate(ctx, textUpdate(testUserID, "hello"))

	require.Equal(t, []string{
		"No interview is running. Send /interview to begin.",
		"No interview is running.",
		telegramHelp,
	}, h.api.texts())
}

func TestTelegram_DuplicateStartAndStatus(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/interview"))
	h.waitForText(t, "Tell me about yourself.")

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/start"))
	h.waitForText(t, "An interview is already running.")

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/status"))
	h.waitForText(t, "Question 1 of 2 (WAITING_FOR_ANSWER).")
}

func TestTelegram_StopEndsSession(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/interview"))
	h.waitForText(t, "Tell me about yourself.")

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/stop"))
	h.waitForText(t, "Interview finished (ended by candidate)")
}

func TestTelegram_OversizeVoiceRejectedBeforeDownload(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/interview"))
	h.waitForText(t, "Tell me about yourself.")

	h.channel.handleUpdate(ctx, voiceUpdate("voice-1", 100))
	h.waitForText(t, "That recording is too large (100 bytes, limit 4).")

	h.api.mu.Lock()
	require.Zero(t, h.api.getFiles)
	h.api.mu.Unlock()
	h.transcriber.mu.Lock()
	require.Empty(t, h.transcriber.audio)
	h.transcriber.mu.Unlock()
}

func TestTelegram_DownloadFailureAsksToRetry(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.channel.handleUpdate(ctx, textUpdate(testUserID, "/interview"))
	h.waitForText(t, "Tell me about yourself.")

	h.channel.handleUpdate(ctx, voiceUpdate("missing", 9))
	h.waitForText(t, "Could not download that recording.")
}

func TestTelegram_ShutdownEndsLiveSessions(t *testing.T) {
	h := newHarness(t, 0)

	h.channel.handleUpdate(context.Background(), textUpdate(testUserID, "/interview"))
	h.waitForText(t, "Tell me about yourself.")

	h.channel.shutdown()
	require.True(t, h.api.hasText("Interview finished (interviewer shutting down)"))
}

func TestCommandName(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"   ":                  "",
		"/Start":               "/start",
		"/interview@bot extra": "/interview",
		"hello there":          "hello",
	}
	for in, want := range cases {
		require.Equal(t, want, commandName(in), "input %q", in)
	}
}

func TestRenderMessage(t *testing.T) {
	text, ok := renderMessage(interview.Message{
		Type:  interview.TypeError,
		Error: &interview.MessageError{Kind: interview.ErrorKindAnswerTimeout},
	})
	require.True(t, ok)
	require.Equal(t, "Time is up for that question. Let's try it again.", text)

	text, ok = renderMessage(interview.Message{Type: interview.TypeCandidateAnswer, Text: "  "})
	require.True(t, ok)
	require.Equal(t, "I could not hear anything in that recording.", text)

	_, ok = renderMessage(interview.Message{Type: interview.TypeWaitingForAnswer})
	require.False(t, ok)
	_, ok = renderMessage(interview.Message{Type: interview.TypeProcessingAudio})
	require.False(t, ok)
}
