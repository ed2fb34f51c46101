package interview

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a session message.
type MessageType string

const (
	TypeAgentQuestion    MessageType = "AGENT_QUESTION"
	TypeCandidateAnswer  MessageType = "CANDIDATE_ANSWER"
	TypeSystemMessage    MessageType = "SYSTEM_MESSAGE"
	TypeError            MessageType = "ERROR"
	TypeSessionStart     MessageType = "SESSION_START"
	TypeSessionEnd       MessageType = "SESSION_END"
	TypeWaitingForAnswer MessageType = "WAITING_FOR_ANSWER"
	TypeProcessingAudio  MessageType = "PROCESSING_AUDIO"
)

// ErrorKindAnswerTimeout marks an answer deadline that passed without audio.
const ErrorKindAnswerTimeout = "ANSWER_TIMEOUT"

// Message is one entry in a session's ordered message stream.
// ERROR messages carry Error and never Text.
type Message struct {
	Type       MessageType   `json:"type"`
	SessionID  string        `json:"session_id"`
	QuestionID string        `json:"question_id,omitempty"`
	Text       string        `json:"text,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Emotion    string        `json:"emotion,omitempty"`
	SpeakerID  string        `json:"speaker_id,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// MessageError describes a failure reported on the message stream.
type MessageError struct {
	// Kind is a provider error kind or ErrorKindAnswerTimeout.
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Fatal is set on the last message of a failed session.
	Fatal bool `json:"fatal"`
}

// Bytes returns the JSON encoding of the message.
func (m Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes one JSON message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	return msg, nil
}
