package interview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateSessionStart, true},
		{StateCreated, StateAsking, false},
		{StateCreated, StateEnded, false},
		{StateSessionStart, StateAsking, true},
		{StateAsking, StateWaiting, true},
		{StateAsking, StateProcessing, false},
		{StateWaiting, StateProcessing, true},
		{StateWaiting, StateAsking, true},
		{StateProcessing, StateAsking, true},
		{StateProcessing, StateEnded, true},
		{StateProcessing, StateWaiting, false},
		{StateWaiting, StateFailed, true},
		{StateEnded, StateAsking, false},
		{StateFailed, StateEnded, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
	require.True(t, StateEnded.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateWaiting.Terminal())
}

func TestMessageJSONOmitsEmptyPayload(t *testing.T) {
	msg := Message{
		Type:      TypeError,
		SessionID: "s1",
		Error:     &MessageError{Kind: ErrorKindAnswerTimeout, Message: "late"},
	}
	raw, err := msg.Bytes()
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"text"`)
	require.True(t, strings.Contains(string(raw), `"kind":"ANSWER_TIMEOUT"`))

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, TypeError, parsed.Type)
	require.Equal(t, "late", parsed.Error.Message)

	_, err = ParseMessage([]byte("{"))
	require.Error(t, err)
}
