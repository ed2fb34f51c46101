package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/neoclaw-ai/interviewer/internal/interview"
	"golang.org/x/term"
)

const defaultReplPrompt = "candidate> "

const replHelp = `Commands:
  answer <audio-file>                answer the current question
  answer <question-id> <audio-file>  answer a specific question
  status                             show session progress
  quit                               end the interview`

type promptChannel interface {
	Read(ctx context.Context) (string, error)
	WriteMeta(ctx context.Context, text string) error
}

type readlinePromptChannel struct {
	rl *readline.Instance
}

func newReadlinePromptChannel(in io.Reader, out io.Writer, historyPath string) (*readlinePromptChannel, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     historyPath,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
	if err != nil {
		return nil, err
	}
	return &readlinePromptChannel{rl: rl}, nil
}

func (c *readlinePromptChannel) Read(_ context.Context) (string, error) {
	line, err := c.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return "", io.EOF
		}
		return "", err
	}
	return line, nil
}

// WriteMeta prints above the active prompt so session messages do not garble input.
func (c *readlinePromptChannel) WriteMeta(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.rl.Stdout(), "%s\n", text)
	return err
}

func (c *readlinePromptChannel) Close() error {
	return c.rl.Close()
}

type stdioPromptChannel struct {
	in     *bufio.Reader
	prompt string

	mu  sync.Mutex
	out io.Writer
}

func newStdioPromptChannel(in io.Reader, out io.Writer) *stdioPromptChannel {
	return &stdioPromptChannel{
		in:     bufio.NewReader(in),
		out:    out,
		prompt: defaultReplPrompt,
	}
}

func (c *stdioPromptChannel) Read(_ context.Context) (string, error) {
	c.mu.Lock()
	_, err := fmt.Fprint(c.out, c.prompt)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *stdioPromptChannel) WriteMeta(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n", text)
	return err
}

// newPromptChannel prefers readline on a terminal and falls back to line-buffered stdio.
func newPromptChannel(in io.Reader, out io.Writer, historyPath string) promptChannel {
	if channel, err := newReadlinePromptChannel(in, out, historyPath); err == nil {
		return channel
	}
	return newStdioPromptChannel(in, out)
}

// interviewREPL drives one live session from typed commands.
type interviewREPL struct {
	engine    *interview.Engine
	sessionID string
	channel   promptChannel
}

// run reads commands until the session finishes, the user quits or ctx ends.
// finished yields once the session's message stream has been fully recorded.
func (r *interviewREPL) run(ctx context.Context, finished <-chan error) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := r.channel.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-finished:
			return err
		case <-ctx.Done():
			return r.end(finished, "interrupted")
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				return err
			}
			return r.end(finished, "ended by candidate")
		case line := <-lines:
			quit, err := r.handle(ctx, line)
			if err != nil {
				if writeErr := r.channel.WriteMeta(ctx, fmt.Sprintf("error: %v", err)); writeErr != nil {
					return writeErr
				}
			}
			if quit {
				return r.end(finished, "ended by candidate")
			}
		}
	}
}

func (r *interviewREPL) handle(ctx context.Context, line string) (quit bool, err error) {
	tokens, err := shlex.Split(strings.TrimSpace(line))
	if err != nil {
		return false, fmt.Errorf("parse command: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}

	switch strings.ToLower(tokens[0]) {
	case "quit", "exit", "/quit", "/exit":
		return true, nil
	case "help", "?":
		return false, r.channel.WriteMeta(ctx, replHelp)
	case "status":
		snapshot, err := r.engine.Session(r.sessionID)
		if err != nil {
			return false, err
		}
		return false, r.channel.WriteMeta(ctx, formatStatus(snapshot))
	case "answer":
		var questionID, path string
		switch len(tokens) {
		case 2:
			snapshot, err := r.engine.Session(r.sessionID)
			if err != nil {
				return false, err
			}
			questionID, path = snapshot.CurrentQuestionID, tokens[1]
		case 3:
			questionID, path = tokens[1], tokens[2]
		default:
			return false, fmt.Errorf("usage: answer [question-id] <audio-file>")
		}
		audio, err := readAudioFile(path)
		if err != nil {
			return false, err
		}
		return false, r.engine.SubmitAudio(ctx, r.sessionID, questionID, audio)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", tokens[0])
	}
}

// end closes the session and waits for its closing messages to be recorded.
func (r *interviewREPL) end(finished <-chan error, reason string) error {
	if err := r.engine.EndSession(r.sessionID, reason); err != nil && !errors.Is(err, interview.ErrSessionNotFound) && !errors.Is(err, interview.ErrSessionClosed) {
		return err
	}
	return <-finished
}

func formatMessage(m interview.Message) string {
	switch m.Type {
	case interview.TypeSessionStart:
		return fmt.Sprintf("== session %s: %s", m.SessionID, m.Text)
	case interview.TypeAgentQuestion:
		return fmt.Sprintf("[%s] interviewer> %s", m.QuestionID, m.Text)
	case interview.TypeWaitingForAnswer:
		return fmt.Sprintf("(waiting for an answer to %s; type: answer <audio-file>)", m.QuestionID)
	case interview.TypeProcessingAudio:
		return fmt.Sprintf("(transcribing answer to %s...)", m.QuestionID)
	case interview.TypeCandidateAnswer:
		line := fmt.Sprintf("[%s] transcript> %s", m.QuestionID, m.Text)
		if m.Confidence != nil {
			line += fmt.Sprintf(" (confidence %.2f)", *m.Confidence)
		}
		if m.Emotion != "" {
			line += fmt.Sprintf(" (%s)", m.Emotion)
		}
		return line
	case interview.TypeError:
		if m.Error == nil {
			return "error"
		}
		line := fmt.Sprintf("error [%s]: %s", m.Error.Kind, m.Error.Message)
		if m.Error.Fatal {
			line += " (session failed)"
		}
		return line
	case interview.TypeSessionEnd:
		return fmt.Sprintf("== session ended: %s", m.Text)
	default:
		return m.Text
	}
}

func formatStatus(s interview.Session) string {
	current := s.CurrentQuestionID
	if current == "" {
		current = "-"
	}
	return fmt.Sprintf(
		"state=%s question=%s remaining=%d retries=%d elapsed=%s",
		s.State,
		current,
		len(s.Remaining),
		s.Retries,
		s.LastActivityTime.Sub(s.StartTime).Round(time.Second),
	)
}

func replHistoryPath(dir string) string {
	return filepath.Join(dir, ".interviewer_history")
}
