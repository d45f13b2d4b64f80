package protocol

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
)

func TestSSEReader(t *testing.T) {
	stream := ": keepalive\n\n" +
		"data: {\"type\":\"agent_active\",\"data\":{\"agent\":\"support\"}}\n\n" +
		"event: note\r\nid: 7\r\ndata: line1\r\ndata: line2\r\n\r\n" +
		"retry: 100\n\n" +
		"data: tail"

	r := NewSSEReader(io.NopCloser(strings.NewReader(stream)))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"agent_active","data":{"agent":"support"}}`, string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "note", ev.Event)
	assert.Equal(t, "7", ev.ID)
	assert.Equal(t, "line1\nline2", string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(ev.Data))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReaderDone(t *testing.T) {
	r := NewSSEReader(io.NopCloser(strings.NewReader("data: [DONE]\n\ndata: x\n\n")))
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeAgentEvent(t *testing.T) {
	ev, err := DecodeAgentEvent([]byte(`{"type":"tool_call","data":{"tool":"search_kb","status":"started","input":{"q":"outage"}},"timestamp":1700000000.25}`))
	require.NoError(t, err)
	assert.Equal(t, core.EventToolCall, ev.Type)
	assert.Equal(t, "search_kb", ev.Data.Tool)
	assert.Equal(t, core.ToolStarted, ev.Data.Status)
	assert.JSONEq(t, `{"q":"outage"}`, string(ev.Data.Input))
	assert.Equal(t, 1700000000.25, ev.Timestamp)

	ev, err = DecodeAgentEvent([]byte(`{"type":"weather","data":{}}`))
	require.NoError(t, err)
	assert.False(t, ev.Type.Known())

	_, err = DecodeAgentEvent([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = DecodeAgentEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestChatRequestOmitsEmptyIDs(t *testing.T) {
	b, err := Marshal(ChatRequest{Message: "hi", ThreadID: "t"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hi","thread_id":"t"}`, string(b))
}

func TestErrorResponseDetailText(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"Agent not found"}`, "Agent not found"},
		{`{}`, ""},
		{`{"detail":null}`, ""},
		{`{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
	}
	for _, c := range cases {
		e, err := UnmarshalPayload[ErrorResponse]([]byte(c.body))
		require.NoError(t, err)
		assert.Equal(t, c.want, e.DetailText(), c.body)
	}
}

func TestHistoryResponse(t *testing.T) {
	h, err := UnmarshalPayload[HistoryResponse]([]byte(`{"messages":[{"text":"a","sender":"user"},{"text":"b","sender":"bot"}]}`))
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, core.SenderBot, h.Messages[1].Sender)

	var raw json.RawMessage
	require.NoError(t, Unmarshal([]byte(`{"a":1}`), &raw))
	assert.JSONEq(t, `{"a":1}`, string(raw))
}
