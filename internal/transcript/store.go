// Package transcript persists interview session messages as JSONL, one file per session.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/neoclaw-ai/interviewer/internal/interview"
	"github.com/neoclaw-ai/interviewer/internal/store"
)

// Store appends one session's messages to a JSONL file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a transcript store for one session file.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads all valid records. Malformed lines are skipped and a missing file is empty.
func (s *Store) Load(ctx context.Context) ([]interview.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.path == "" {
		return nil, errors.New("transcript path is required")
	}

	lines, err := store.ReadLines(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []interview.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript file: %w", err)
	}

	messages := make([]interview.Message, 0, len(lines))
	for _, line := range lines {
		msg, err := interview.ParseMessage(line)
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append writes messages as JSONL records.
func (s *Store) Append(ctx context.Context, messages ...interview.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	if s.path == "" {
		return errors.New("transcript path is required")
	}

	var b strings.Builder
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal transcript record: %w", err)
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}

	if err := store.AppendFile(s.path, []byte(b.String())); err != nil {
		return fmt.Errorf("append transcript record: %w", err)
	}
	return nil
}

// Record drains a session's message stream into the store, calling onMessage
// for each message first. It returns when the stream closes or ctx ends.
func (s *Store) Record(ctx context.Context, messages <-chan interview.Message, onMessage func(interview.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if onMessage != nil {
				onMessage(msg)
			}
			if err := s.Append(ctx, msg); err != nil {
				return err
			}
		}
	}
}
