package interview

import (
	"context"
	"strings"
	"testing"

	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
	"github.com/stretchr/testify/require"
)

func TestParseQuestionBank(t *testing.T) {
	input := `
# warm-up
intro: Tell me about yourself.
What is a goroutine?

design: How would you design a rate limiter?
`
	bank, ids, err := ParseQuestionBank(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"intro", "q2", "design"}, ids)
	require.Equal(t, "What is a goroutine?", bank["q2"])

	text, err := bank.QuestionText(context.Background(), "design")
	require.NoError(t, err)
	require.Equal(t, "How would you design a rate limiter?", text)

	_, err = bank.QuestionText(context.Background(), "missing")
	require.True(t, providererr.Is(err, providererr.KindInvalidRequest))

	_, _, err = ParseQuestionBank(strings.NewReader("a: one\na: two\n"))
	require.Error(t, err)
	_, _, err = ParseQuestionBank(strings.NewReader("# only comments\n"))
	require.Error(t, err)
}

type generatorFunc func(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error)

func (f generatorFunc) Generate(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error) {
	return f(ctx, req)
}

func TestGeneratedQuestions(t *testing.T) {
	var got provider.GenerationRequest
	g := &GeneratedQuestions{
		Generator: generatorFunc(func(_ context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error) {
			got = req
			return &provider.GenerationResult{Text: "  How do channels synchronize goroutines?  "}, nil
		}),
		Topics:      QuestionBank{"q1": "go channels"},
		MaxTokens:   120,
		Temperature: 0.5,
	}

	text, err := g.QuestionText(context.Background(), "q1")
	require.NoError(t, err)
	require.Equal(t, "How do channels synchronize goroutines?", text)
	require.Equal(t, "Topic: go channels", got.Prompt)
	require.Equal(t, 120, got.MaxTokens)
	require.Equal(t, defaultInterviewerPrompt, got.SystemPrompt)

	g.Generator = generatorFunc(func(context.Context, provider.GenerationRequest) (*provider.GenerationResult, error) {
		return &provider.GenerationResult{Text: " "}, nil
	})
	_, err = g.QuestionText(context.Background(), "q1")
	require.True(t, providererr.Is(err, providererr.KindResponseParsingError))

	_, err = g.QuestionText(context.Background(), "unknown")
	require.True(t, providererr.Is(err, providererr.KindInvalidRequest))
}
