package interview

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

// QuestionSource turns a question ID into the text asked to the candidate.
type QuestionSource interface {
	QuestionText(ctx context.Context, questionID string) (string, error)
}

// QuestionBank serves pre-authored questions keyed by ID.
type QuestionBank map[string]string

// QuestionText returns the stored text for questionID.
func (b QuestionBank) QuestionText(_ context.Context, questionID string) (string, error) {
	text, ok := b[questionID]
	if !ok || strings.TrimSpace(text) == "" {
		return "", providererr.Newf(providererr.KindInvalidRequest, "", "unknown question %q", questionID)
	}
	return text, nil
}

// ParseQuestionBank reads one question per line. Lines of the form "id: text"
// keep their ID; bare lines are numbered q1, q2, ... Blank lines and lines
// starting with '#' are skipped. IDs are returned in file order.
func ParseQuestionBank(r io.Reader) (QuestionBank, []string, error) {
	bank := QuestionBank{}
	var ids []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id := fmt.Sprintf("q%d", len(ids)+1)
		text := line
		if before, after, ok := strings.Cut(line, ":"); ok && before != "" && !strings.ContainsAny(before, " \t") {
			id, text = before, strings.TrimSpace(after)
		}
		if _, dup := bank[id]; dup {
			return nil, nil, fmt.Errorf("duplicate question id %q", id)
		}
		if text == "" {
			return nil, nil, fmt.Errorf("question %q has no text", id)
		}
		bank[id] = text
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("no questions found")
	}
	return bank, ids, nil
}

// Generator produces text; *provider.Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error)
}

const defaultInterviewerPrompt = "You are a friendly technical interviewer conducting a spoken interview. " +
	"Reply with exactly one interview question, phrased for speech, with no preamble."

// GeneratedQuestions phrases each topic as a spoken question through an LLM.
type GeneratedQuestions struct {
	Generator    Generator
	Topics       QuestionBank
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// QuestionText asks the generator to phrase the topic stored under questionID.
func (g *GeneratedQuestions) QuestionText(ctx context.Context, questionID string) (string, error) {
	topic, err := g.Topics.QuestionText(ctx, questionID)
	if err != nil {
		return "", err
	}

	system := g.SystemPrompt
	if system == "" {
		system = defaultInterviewerPrompt
	}
	res, err := g.Generator.Generate(ctx, provider.GenerationRequest{
		SystemPrompt: system,
		Prompt:       "Topic: " + topic,
		MaxTokens:    g.MaxTokens,
		Temperature:  g.Temperature,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", providererr.Newf(providererr.KindResponseParsingError, "", "generated question for %q is empty", questionID)
	}
	return text, nil
}
