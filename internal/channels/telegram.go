// Package channels carries interview sessions over chat transports.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/interviewer/internal/interview"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/transcript"
	"github.com/neoclaw-ai/interviewer/internal/transcription"
)

const telegramHelp = "Send /interview to begin. Answer each question with a voice message. " +
	"/status shows progress and /stop ends the interview."

// telegramAPI is the subset of *bot.Bot the channel calls.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
}

// TelegramOptions configures a TelegramChannel.
type TelegramOptions struct {
	Token  string
	APIURL string
	// AllowedUsers holds numeric Telegram user IDs.
	AllowedUsers []string
	// QuestionIDs is the ordered question list for every interview.
	QuestionIDs []string
	// TranscriptPath maps a session ID to its message log.
	TranscriptPath func(sessionID string) string
	// MaxAudioBytes rejects voice notes before download when Telegram reports a larger size.
	MaxAudioBytes int64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// TelegramChannel runs one interview per Telegram chat. Voice notes are
// downloaded and submitted as answers; session messages are sent back to the chat.
type TelegramChannel struct {
	engine  *interview.Engine
	opts    TelegramOptions
	allowed map[string]struct{}
	logger  *slog.Logger

	api telegramAPI

	mu       sync.Mutex
	sessions map[int64]string
	wg       sync.WaitGroup
}

// NewTelegram returns a channel that drives sessions on engine.
func NewTelegram(engine *interview.Engine, opts TelegramOptions) *TelegramChannel {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	opts.APIURL = strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	allowed := make(map[string]struct{}, len(opts.AllowedUsers))
	for _, id := range opts.AllowedUsers {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &TelegramChannel{
		engine:   engine,
		opts:     opts,
		allowed:  allowed,
		logger:   logging.Component(opts.Logger, "telegram"),
		sessions: map[int64]string{},
	}
}

// Listen long-polls Telegram until ctx ends, then waits for open transcripts to be flushed.
func (t *TelegramChannel) Listen(ctx context.Context) error {
	token := strings.TrimSpace(t.opts.Token)
	if token == "" {
		return errors.New("telegram token is required")
	}
	if len(t.opts.QuestionIDs) == 0 {
		return errors.New("at least one question is required")
	}
	if len(t.allowed) == 0 {
		t.logger.Warn("no allowed Telegram users; every interview request will be ignored")
	}

	options := []bot.Option{
		bot.WithDefaultHandler(func(updateCtx context.Context, _ *bot.Bot, update *models.Update) {
			t.handleUpdate(updateCtx, update)
		}),
	}
	if t.opts.APIURL != "" {
		options = append(options, bot.WithServerURL(t.opts.APIURL))
	}
	b, err := bot.New(token, options...)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot profile: %w", err)
	}
	t.logger.Info(fmt.Sprintf("Connected to Telegram Bot @%s", strings.TrimSpace(me.Username)))
	t.api = b

	b.Start(ctx)
	t.shutdown()
	return nil
}

// shutdown ends every live interview and waits for their closing messages.
func (t *TelegramChannel) shutdown() {
	t.mu.Lock()
	live := make([]string, 0, len(t.sessions))
	for _, id := range t.sessions {
		if id != "" {
			live = append(live, id)
		}
	}
	t.mu.Unlock()

	for _, id := range live {
		if err := t.engine.EndSession(id, "interviewer shutting down"); err != nil {
			t.logger.Debug("session already closed", "session", id, "err", err)
		}
	}
	t.wg.Wait()
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	userID := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID

	t.logger.Info(
		"telegram inbound message",
		"user_id", userID,
		"username", strings.TrimSpace(msg.From.Username),
		"voice", msg.Voice != nil || msg.Audio != nil,
		"text", messagePreview(msg.Text, 100),
	)
	if !t.isAllowedUser(userID) {
		return
	}

	if audio, ok := voiceAttachment(msg); ok {
		t.answer(ctx, chatID, audio)
		return
	}

	switch commandName(msg.Text) {
	case "/start", "/interview":
		t.startInterview(ctx, chatID)
	case "/status":
		t.status(ctx, chatID)
	case "/stop", "/quit":
		t.stop(ctx, chatID)
	default:
		t.reply(ctx, chatID, telegramHelp)
	}
}

func (t *TelegramChannel) startInterview(ctx context.Context, chatID int64) {
	t.mu.Lock()
	if _, busy := t.sessions[chatID]; busy {
		t.mu.Unlock()
		t.reply(ctx, chatID, "An interview is already running. Send /stop to end it.")
		return
	}
	// Reserve the chat while the first question is fetched.
	t.sessions[chatID] = ""
	t.mu.Unlock()

	sessionID, err := t.engine.StartSession(context.WithoutCancel(ctx), t.opts.QuestionIDs...)
	if err == nil {
		var messages <-chan interview.Message
		messages, err = t.engine.Messages(sessionID)
		if err == nil {
			t.mu.Lock()
			t.sessions[chatID] = sessionID
			t.mu.Unlock()
			t.wg.Add(1)
			go t.record(chatID, sessionID, messages)
			return
		}
	}

	t.mu.Lock()
	delete(t.sessions, chatID)
	t.mu.Unlock()
	t.logger.Warn("failed to start interview", "chat_id", chatID, "err", err)
	t.reply(ctx, chatID, fmt.Sprintf("Could not start the interview: %v", err))
}

// record forwards a session's messages to the chat and persists them until the stream closes.
func (t *TelegramChannel) record(chatID int64, sessionID string, messages <-chan interview.Message) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		if t.sessions[chatID] == sessionID {
			delete(t.sessions, chatID)
		}
		t.mu.Unlock()
	}()

	ctx := context.Background()
	forward := func(m interview.Message) {
		if text, ok := renderMessage(m); ok {
			t.reply(ctx, chatID, text)
		}
	}
	if t.opts.TranscriptPath == nil {
		for m := range messages {
			forward(m)
		}
		return
	}
	store := transcript.New(t.opts.TranscriptPath(sessionID))
	if err := store.Record(ctx, messages, forward); err != nil {
		t.logger.Error("failed to record transcript", "session", sessionID, "err", err)
		// Keep forwarding so the chat still sees the session close.
		for m := range messages {
			forward(m)
		}
	}
}

func (t *TelegramChannel) answer(ctx context.Context, chatID int64, att attachment) {
	sessionID, ok := t.sessionFor(chatID)
	if !ok {
		t.reply(ctx, chatID, "No interview is running. Send /interview to begin.")
		return
	}
	snapshot, err := t.engine.Session(sessionID)
	if err != nil {
		t.reply(ctx, chatID, fmt.Sprintf("error: %v", err))
		return
	}
	if t.opts.MaxAudioBytes > 0 && att.size > t.opts.MaxAudioBytes {
		t.reply(ctx, chatID, fmt.Sprintf("That recording is too large (%d bytes, limit %d).", att.size, t.opts.MaxAudioBytes))
		return
	}

	audio, err := t.download(ctx, att)
	if err != nil {
		t.logger.Warn("failed to download voice message", "chat_id", chatID, "err", err)
		t.reply(ctx, chatID, "Could not download that recording. Please try again.")
		return
	}
	// Transcription failures arrive on the message stream; rejections come back here.
	if err := t.engine.SubmitAudio(ctx, sessionID, snapshot.CurrentQuestionID, audio); err != nil &&
		(errors.Is(err, interview.ErrSessionBusy) || errors.Is(err, interview.ErrStaleQuestion) || errors.Is(err, interview.ErrSessionClosed)) {
		t.reply(ctx, chatID, fmt.Sprintf("Answer not accepted: %v", err))
	}
}

func (t *TelegramChannel) status(ctx context.Context, chatID int64) {
	sessionID, ok := t.sessionFor(chatID)
	if !ok {
		t.reply(ctx, chatID, "No interview is running.")
		return
	}
	snapshot, err := t.engine.Session(sessionID)
	if err != nil {
		t.reply(ctx, chatID, fmt.Sprintf("error: %v", err))
		return
	}
	answered := len(t.opts.QuestionIDs) - len(snapshot.Remaining)
	t.reply(ctx, chatID, fmt.Sprintf("Question %d of %d (%s).", answered+1, len(t.opts.QuestionIDs), snapshot.State))
}

func (t *TelegramChannel) stop(ctx context.Context, chatID int64) {
	sessionID, ok := t.sessionFor(chatID)
	if !ok {
		t.reply(ctx, chatID, "No interview is running.")
		return
	}
	if err := t.engine.EndSession(sessionID, "ended by candidate"); err != nil {
		t.reply(ctx, chatID, fmt.Sprintf("error: %v", err))
	}
}

func (t *TelegramChannel) sessionFor(chatID int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.sessions[chatID]
	return id, ok && id != ""
}

func (t *TelegramChannel) isAllowedUser(userID string) bool {
	_, ok := t.allowed[strings.TrimSpace(userID)]
	return ok
}

func (t *TelegramChannel) reply(ctx context.Context, chatID int64, text string) {
	if t.api == nil {
		return
	}
	if _, err := t.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		t.logger.Warn("failed to send telegram message", "chat_id", chatID, "err", err)
	}
}

type attachment struct {
	fileID      string
	filename    string
	contentType string
	size        int64
}

func voiceAttachment(msg *models.Message) (attachment, bool) {
	switch {
	case msg.Voice != nil:
		contentType := msg.Voice.MimeType
		if contentType == "" {
			contentType = "audio/ogg"
		}
		return attachment{
			fileID:      msg.Voice.FileID,
			filename:    "voice.ogg",
			contentType: contentType,
			size:        msg.Voice.FileSize,
		}, true
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		contentType := msg.Audio.MimeType
		if contentType == "" {
			contentType = transcription.ContentTypeForFilename(name)
		}
		return attachment{
			fileID:      msg.Audio.FileID,
			filename:    name,
			contentType: contentType,
			size:        msg.Audio.FileSize,
		}, true
	}
	return attachment{}, false
}

func (t *TelegramChannel) download(ctx context.Context, att attachment) (transcription.AudioAsset, error) {
	file, err := t.api.GetFile(ctx, &bot.GetFileParams{FileID: att.fileID})
	if err != nil {
		return transcription.AudioAsset{}, fmt.Errorf("get file: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", t.opts.APIURL, strings.TrimSpace(t.opts.Token), file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transcription.AudioAsset{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return transcription.AudioAsset{}, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transcription.AudioAsset{}, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if t.opts.MaxAudioBytes > 0 {
		// One byte past the limit lets local validation report the oversize.
		body = io.LimitReader(resp.Body, t.opts.MaxAudioBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return transcription.AudioAsset{}, fmt.Errorf("read file: %w", err)
	}
	return transcription.AudioAsset{
		Data:        data,
		Size:        int64(len(data)),
		ContentType: att.contentType,
		Filename:    att.filename,
	}, nil
}

// renderMessage formats a session message for chat; progress markers are not sent.
func renderMessage(m interview.Message) (string, bool) {
	switch m.Type {
	case interview.TypeSessionStart:
		return "Interview started. " + m.Text + ".", true
	case interview.TypeAgentQuestion:
		return m.Text, true
	case interview.TypeCandidateAnswer:
		if strings.TrimSpace(m.Text) == "" {
			return "I could not hear anything in that recording.", true
		}
		return "Heard: " + m.Text, true
	case interview.TypeError:
		if m.Error == nil {
			return "", false
		}
		if m.Error.Kind == interview.ErrorKindAnswerTimeout && !m.Error.Fatal {
			return "Time is up for that question. Let's try it again.", true
		}
		if m.Error.Fatal {
			return "The interview stopped: " + m.Error.Message, true
		}
		return "Something went wrong with that answer: " + m.Error.Message, true
	case interview.TypeSessionEnd:
		return "Interview finished (" + m.Text + "). Thank you!", true
	case interview.TypeSystemMessage:
		return m.Text, m.Text != ""
	default:
		return "", false
	}
}

// commandName returns the lowercased leading bot command, without any @botname suffix.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name)
}

func messagePreview(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
