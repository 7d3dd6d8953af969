package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Encode(t *testing.T) {
	ev := Event{Source: "builder|abc", Type: MessageStream, Content: "hel"}
	assert.Equal(t, "builder|abc[$]MESSAGE_STREAM[$]hel", ev.String())
	assert.Equal(t, []byte(ev.String()), ev.Encode())
}

func TestDecodeEvent_ContentMayContainDelimiter(t *testing.T) {
	ev := Event{Source: SourceRuntime, Type: Message, Content: "a[$]b[$]c"}
	got, err := DecodeEvent(ev.String())
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeEvent_Errors(t *testing.T) {
	for _, raw := range []string{
		"",
		"RUNTIME",
		"RUNTIME[$]MESSAGE",
		"[$]MESSAGE[$]x",
		"RUNTIME[$]SHOUT[$]x",
	} {
		_, err := DecodeEvent(raw)
		assert.ErrorIs(t, err, ErrMalformedMessage, "raw=%q", raw)
	}
}

func TestParseInbound(t *testing.T) {
	m, err := ParseInbound("conversation[$]builder|1[$]hello")
	require.NoError(t, err)
	assert.Equal(t, Inbound{Topic: TopicConversation, ID: "builder|1", Content: "hello"}, m)
	assert.Equal(t, "conversation[$]builder|1[$]hello", m.String())

	m, err = ParseInbound("task[$][$]build a todo app")
	require.NoError(t, err)
	assert.Equal(t, TopicTask, m.Topic)
	assert.Empty(t, m.ID)

	// Unknown topics parse; routing decides what to do with them.
	m, err = ParseInbound("gossip[$]x[$]y")
	require.NoError(t, err)
	assert.Equal(t, Topic("gossip"), m.Topic)
}

func TestParseInbound_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no delimiter", "hello"},
		{"two segments", "conversation[$]x"},
		{"four segments", "conversation[$]x[$]y[$]z"},
		{"empty topic", "[$]x[$]y"},
		{"empty content", "conversation[$]x[$]"},
		{"empty conversation id", "conversation[$][$]y"},
		{"empty task content", "task[$][$]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestInfoEvent(t *testing.T) {
	ev := InfoEvent("pm|1", UsageInfo{Cost: 0.00045, InputTokens: 1000, OutputTokens: 500})
	assert.Equal(t, Info, ev.Type)
	assert.Equal(t, "pm|1", ev.Source)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev.Content), &got))
	assert.InDelta(t, 0.00045, got["cost"], 1e-12)
	assert.EqualValues(t, 1000, got["inputTokens"])
	assert.EqualValues(t, 500, got["outputTokens"])
}

func TestContentType_Valid(t *testing.T) {
	for _, ct := range []ContentType{Message, MessageStream, System, Error, Info} {
		assert.True(t, ct.Valid(), ct)
	}
	assert.False(t, ContentType("message").Valid())
}
