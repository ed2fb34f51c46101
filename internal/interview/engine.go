// Package interview drives multi-turn voice interview sessions.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
	"github.com/neoclaw-ai/interviewer/internal/transcription"
)

// Session lifecycle errors. They reach callers wrapped in INVALID_REQUEST errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is busy")
	ErrSessionClosed   = errors.New("session is closed")
	ErrStaleQuestion   = errors.New("question is not awaiting an answer")
)

const (
	defaultResponseTimeout    = 2 * time.Minute
	defaultQuestionRetryDelay = time.Second
	defaultStreamGrace        = time.Minute
)

// Transcriber converts candidate audio into text; *transcription.Pipeline satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio transcription.AudioAsset, opts transcription.Options) (*transcription.Result, error)
}

// EngineOptions carries optional collaborators for an Engine.
type EngineOptions struct {
	TranscriptionOptions transcription.Options
	Metrics              *metrics.Collector
	Logger               *slog.Logger

	// QuestionRetryDelay is the pause before refetching a question after a transient failure.
	QuestionRetryDelay time.Duration
	// StreamGrace is how long a finished session's stream waits for a first
	// Messages call before it is discarded.
	StreamGrace time.Duration
}

// Session is a point-in-time view of one voice session.
type Session struct {
	ID                string    `json:"id"`
	State             State     `json:"state"`
	CurrentQuestionID string    `json:"current_question_id,omitempty"`
	Remaining         []string  `json:"remaining"`
	LastAnsweredID    string    `json:"last_answered_id,omitempty"`
	Retries           int       `json:"retries"`
	StartTime         time.Time `json:"start_time"`
	LastActivityTime  time.Time `json:"last_activity_time"`
}

type session struct {
	mu sync.Mutex

	id           string
	questions    []string
	index        int
	state        State
	busy         bool
	answered     map[string]bool
	lastAnswered string
	questionText string
	retries      int
	startTime    time.Time
	lastActivity time.Time

	timer    *time.Timer
	timerGen uint64
	outbox   *outbox
}

// Engine owns voice sessions and sequences question delivery, answer
// capture and termination for each of them.
type Engine struct {
	questions   QuestionSource
	transcriber Transcriber
	timeout     time.Duration
	maxRetries  int
	policy      string
	retryDelay  time.Duration
	streamGrace time.Duration
	sttOptions  transcription.Options
	metrics     *metrics.Collector
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	outboxes map[string]*outbox
}

// NewEngine returns an engine using cfg for timeouts and retry policy.
func NewEngine(cfg config.InterviewConfig, questions QuestionSource, transcriber Transcriber, opts EngineOptions) *Engine {
	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}
	policy := cfg.TimeoutPolicy
	if policy != config.TimeoutPolicyFail {
		policy = config.TimeoutPolicyReprompt
	}
	retryDelay := opts.QuestionRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultQuestionRetryDelay
	}
	streamGrace := opts.StreamGrace
	if streamGrace <= 0 {
		streamGrace = defaultStreamGrace
	}
	return &Engine{
		questions:   questions,
		transcriber: transcriber,
		timeout:     timeout,
		maxRetries:  max(cfg.MaxRetries, 0),
		policy:      policy,
		retryDelay:  retryDelay,
		streamGrace: streamGrace,
		sttOptions:  opts.TranscriptionOptions,
		metrics:     opts.Metrics,
		logger:      logging.Component(opts.Logger, "interview"),
		sessions:    map[string]*session{},
		outboxes:    map[string]*outbox{},
	}
}

// StartSession opens a session over the ordered question IDs and asks the first question.
// The returned ID is usable with Messages even if the session fails immediately.
func (e *Engine) StartSession(ctx context.Context, questionIDs ...string) (string, error) {
	if len(questionIDs) == 0 {
		return "", providererr.New(providererr.KindInvalidRequest, "", "at least one question is required")
	}
	seen := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		if id == "" || seen[id] {
			return "", providererr.Newf(providererr.KindInvalidRequest, "", "question ids must be unique and non-empty, got %q", id)
		}
		seen[id] = true
	}

	now := time.Now()
	s := &session{
		id:           uuid.NewString(),
		questions:    slices.Clone(questionIDs),
		state:        StateCreated,
		answered:     map[string]bool{},
		startTime:    now,
		lastActivity: now,
		busy:         true,
	}
	s.outbox = newOutbox(func() { e.dropOutbox(s.id) })

	e.mu.Lock()
	e.sessions[s.id] = s
	e.outboxes[s.id] = s.outbox
	e.mu.Unlock()
	e.metrics.SessionOpened()

	s.mu.Lock()
	e.setStateLocked(s, StateSessionStart)
	e.emitLocked(s, Message{
		Type: TypeSessionStart,
		Text: fmt.Sprintf("interview started with %d questions", len(s.questions)),
	})
	s.mu.Unlock()

	e.ask(ctx, s)
	return s.id, nil
}

// Messages returns the ordered message stream for a session. The channel
// closes after SESSION_END or a fatal ERROR has been delivered. Callers must
// drain it; a stream nobody asked for is discarded once the session has
// finished and the stream grace period has passed.
func (e *Engine) Messages(sessionID string) (<-chan Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.outboxes[sessionID]
	if !ok {
		return nil, notFound(sessionID)
	}
	return o.attach(), nil
}

// Session returns a snapshot of a live session.
func (e *Engine) Session(sessionID string) (Session, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Session{
		ID:               s.id,
		State:            s.state,
		LastAnsweredID:   s.lastAnswered,
		Retries:          s.retries,
		StartTime:        s.startTime,
		LastActivityTime: s.lastActivity,
	}
	if s.index < len(s.questions) {
		snap.CurrentQuestionID = s.questions[s.index]
		snap.Remaining = slices.Clone(s.questions[s.index:])
	}
	return snap, nil
}

// SubmitAudio transcribes the candidate's answer to questionID. Audio for a
// question that is not the one awaiting an answer, or submitted while another
// submission is in flight, is rejected with INVALID_REQUEST. If the session is
// ended while the transcription is in flight the transcript is discarded, no
// CANDIDATE_ANSWER is emitted and ErrSessionClosed is returned.
func (e *Engine) SubmitAudio(ctx context.Context, sessionID, questionID string, audio transcription.AudioAsset) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case s.state.Terminal():
		s.mu.Unlock()
		return invalid(ErrSessionClosed, "session %s is closed", sessionID)
	case s.busy:
		s.mu.Unlock()
		return invalid(ErrSessionBusy, "session %s is already processing", sessionID)
	case s.answered[questionID]:
		s.mu.Unlock()
		return invalid(ErrStaleQuestion, "question %q was already answered", questionID)
	case s.state != StateWaiting || s.questions[s.index] != questionID:
		s.mu.Unlock()
		return invalid(ErrStaleQuestion, "question %q is not awaiting an answer", questionID)
	}

	s.busy = true
	e.stopTimerLocked(s)
	e.setStateLocked(s, StateProcessing)
	e.emitLocked(s, Message{
		Type:       TypeProcessingAudio,
		QuestionID: questionID,
		Text:       fmt.Sprintf("transcribing %s", audio.Filename),
	})
	s.mu.Unlock()

	res, err := e.transcriber.Transcribe(ctx, audio, e.sttOptions)

	s.mu.Lock()
	if s.state.Terminal() {
		s.busy = false
		s.mu.Unlock()
		return invalid(ErrSessionClosed, "session %s closed while processing", sessionID)
	}

	if err != nil {
		classified := providererr.Classify("", err)
		if isFatal(classified.Kind) || s.retries >= e.maxRetries {
			e.failLocked(s, string(classified.Kind), classified.Error())
			s.busy = false
			s.mu.Unlock()
			return classified
		}
		s.retries++
		e.emitLocked(s, Message{
			Type:       TypeError,
			QuestionID: questionID,
			Error:      &MessageError{Kind: string(classified.Kind), Message: classified.Error()},
		})
		e.reaskLocked(s)
		s.busy = false
		s.mu.Unlock()
		return classified
	}

	s.answered[questionID] = true
	s.lastAnswered = questionID
	s.retries = 0
	e.emitLocked(s, Message{
		Type:       TypeCandidateAnswer,
		QuestionID: questionID,
		Text:       res.Text,
		Confidence: res.Confidence,
		Emotion:    res.Emotion,
		SpeakerID:  res.SpeakerID,
	})
	s.index++

	if s.index >= len(s.questions) {
		e.endLocked(s, "interview complete")
		s.busy = false
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	e.ask(ctx, s)
	return nil
}

// EndSession terminates a live session with SESSION_END.
func (e *Engine) EndSession(sessionID, reason string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return invalid(ErrSessionClosed, "session %s is closed", sessionID)
	}
	if reason == "" {
		reason = "session ended"
	}
	e.endLocked(s, reason)
	return nil
}

// Close ends every live session and releases their message streams.
func (e *Engine) Close() {
	e.mu.Lock()
	live := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		live = append(live, s)
	}
	boxes := make([]*outbox, 0, len(e.outboxes))
	for _, o := range e.outboxes {
		boxes = append(boxes, o)
	}
	e.mu.Unlock()

	for _, s := range live {
		s.mu.Lock()
		if !s.state.Terminal() {
			e.endLocked(s, "engine shutting down")
		}
		s.mu.Unlock()
	}
	for _, o := range boxes {
		o.abandon()
	}
}

// ask fetches the current question's text and moves the session to WAITING_FOR_ANSWER.
// Transient fetch failures emit a non-fatal ERROR and are retried within max_retries.
// The caller must have marked the session busy; ask clears it.
func (e *Engine) ask(ctx context.Context, s *session) {
	for {
		s.mu.Lock()
		if s.state.Terminal() {
			s.busy = false
			s.mu.Unlock()
			return
		}
		questionID := s.questions[s.index]
		if s.state != StateAsking {
			e.setStateLocked(s, StateAsking)
		}
		s.mu.Unlock()

		text, err := e.questions.QuestionText(ctx, questionID)

		s.mu.Lock()
		if s.state.Terminal() {
			s.busy = false
			s.mu.Unlock()
			return
		}
		if err == nil {
			s.busy = false
			s.questionText = text
			e.deliverQuestionLocked(s, false)
			s.mu.Unlock()
			return
		}

		classified := providererr.Classify("", err)
		// An unknown or malformed question will not resolve on a second fetch.
		if isFatal(classified.Kind) || classified.Kind == providererr.KindInvalidRequest || s.retries >= e.maxRetries {
			e.failLocked(s, string(classified.Kind), classified.Error())
			s.busy = false
			s.mu.Unlock()
			return
		}
		s.retries++
		e.emitLocked(s, Message{
			Type:       TypeError,
			QuestionID: questionID,
			Error:      &MessageError{Kind: string(classified.Kind), Message: classified.Error()},
		})
		e.logger.Warn("question fetch failed, retrying", "session", s.id, "question", questionID, "kind", classified.Kind, "retries", s.retries)
		s.mu.Unlock()

		select {
		case <-time.After(e.retryDelay):
		case <-ctx.Done():
		}
	}
}

// reaskLocked repeats the current question without fetching it again.
func (e *Engine) reaskLocked(s *session) {
	e.setStateLocked(s, StateAsking)
	e.deliverQuestionLocked(s, true)
}

func (e *Engine) deliverQuestionLocked(s *session, reprompt bool) {
	questionID := s.questions[s.index]
	e.emitLocked(s, Message{Type: TypeAgentQuestion, QuestionID: questionID, Text: s.questionText})
	e.setStateLocked(s, StateWaiting)
	e.emitLocked(s, Message{
		Type:       TypeWaitingForAnswer,
		QuestionID: questionID,
		Text:       fmt.Sprintf("awaiting answer within %s", e.timeout),
	})
	e.armTimerLocked(s)
	if reprompt {
		e.logger.Info("question re-asked", "session", s.id, "question", questionID, "retries", s.retries)
	}
}

func (e *Engine) armTimerLocked(s *session) {
	e.stopTimerLocked(s)
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(e.timeout, func() { e.onTimeout(s, gen) })
}

func (e *Engine) stopTimerLocked(s *session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// onTimeout applies the timeout policy when an answer deadline passes.
func (e *Engine) onTimeout(s *session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.state != StateWaiting || s.busy {
		return
	}
	s.timer = nil

	questionID := s.questions[s.index]
	msg := fmt.Sprintf("no answer to %q within %s", questionID, e.timeout)
	e.logger.Warn("answer timeout", "session", s.id, "question", questionID, "policy", e.policy)

	if e.policy == config.TimeoutPolicyFail || s.retries >= e.maxRetries {
		e.failLocked(s, ErrorKindAnswerTimeout, msg)
		return
	}
	s.retries++
	e.emitLocked(s, Message{
		Type:       TypeError,
		QuestionID: questionID,
		Error:      &MessageError{Kind: ErrorKindAnswerTimeout, Message: msg},
	})
	e.reaskLocked(s)
}

func (e *Engine) endLocked(s *session, reason string) {
	e.stopTimerLocked(s)
	e.setStateLocked(s, StateEnded)
	e.emitLocked(s, Message{Type: TypeSessionEnd, Text: reason})
	e.closeLocked(s)
}

func (e *Engine) failLocked(s *session, kind, message string) {
	e.stopTimerLocked(s)
	var questionID string
	if s.index < len(s.questions) {
		questionID = s.questions[s.index]
	}
	e.setStateLocked(s, StateFailed)
	e.emitLocked(s, Message{
		Type:       TypeError,
		QuestionID: questionID,
		Error:      &MessageError{Kind: kind, Message: message, Fatal: true},
	})
	e.closeLocked(s)
}

// closeLocked destroys a session that reached a terminal state. Its stream is
// kept for a grace period so a late Messages call still sees the final messages.
func (e *Engine) closeLocked(s *session) {
	o := s.outbox
	o.close()
	e.mu.Lock()
	delete(e.sessions, s.id)
	e.mu.Unlock()
	e.metrics.SessionClosed()

	id := s.id
	time.AfterFunc(e.streamGrace, func() {
		if o.abandonIfUnread() {
			e.logger.Debug("discarded unread session stream", "session", id)
		}
	})
}

func (e *Engine) setStateLocked(s *session, next State) {
	if !s.state.CanTransition(next) {
		e.logger.Error("unexpected session transition", "session", s.id, "from", s.state, "to", next)
	}
	e.logger.Debug("session transition", "session", s.id, "from", s.state, "to", next)
	s.state = next
	s.lastActivity = time.Now()
	e.metrics.ObserveTransition(string(next))
}

func (e *Engine) emitLocked(s *session, msg Message) {
	msg.SessionID = s.id
	msg.Timestamp = time.Now()
	s.outbox.push(msg)
}

func (e *Engine) lookup(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, notFound(sessionID)
	}
	return s, nil
}

func (e *Engine) dropOutbox(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.outboxes, sessionID)
}

func isFatal(kind providererr.Kind) bool {
	return kind == providererr.KindAPIKeyMissing
}

func notFound(sessionID string) error {
	return invalid(ErrSessionNotFound, "session %s not found", sessionID)
}

func invalid(cause error, format string, args ...any) error {
	return &providererr.Error{
		Kind:    providererr.KindInvalidRequest,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
