package core

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	level string
	msg   string
	attrs map[string]interface{}
}

func captureLogger() (*Logger, *[]record) {
	var recs []record
	return NewLogger(func(level, msg string, attrs map[string]interface{}) {
		recs = append(recs, record{level, msg, attrs})
	}), &recs
}

func TestLoggerKeyValueArgs(t *testing.T) {
	l, recs := captureLogger()
	l.With(map[string]interface{}{"component": "chat"}).Info("sent", "thread_id", "t-1", "bytes", 12)

	require.Len(t, *recs, 1)
	r := (*recs)[0]
	assert.Equal(t, "INFO", r.level)
	assert.Equal(t, "sent", r.msg)
	assert.Equal(t, map[string]interface{}{"component": "chat", "thread_id": "t-1", "bytes": 12}, r.attrs)
}

func TestLoggerFormatArgs(t *testing.T) {
	l, recs := captureLogger()
	l.Warnf("dropped %d frames", 3)

	require.Len(t, *recs, 1)
	assert.Equal(t, "dropped 3 frames", (*recs)[0].msg)
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	l, recs := captureLogger()
	child := l.Component("voice")
	l.Info("parent")
	child.Info("child")

	require.Len(t, *recs, 2)
	assert.Empty(t, (*recs)[0].attrs)
	assert.Equal(t, "voice", (*recs)[1].attrs["component"])
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().Error("ignored", "error", errors.New("x"))
	})
}

func TestWriterLoggerSortsAttrs(t *testing.T) {
	var buf bytes.Buffer
	NewWriterLogger(&buf).Info("hello", "b", 2, "a", 1)
	assert.Contains(t, buf.String(), "[INFO] hello | a=1 b=2")
}

func TestAgentEventStamp(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)

	var e AgentEvent
	e.Stamp(now)
	assert.InDelta(t, 1700000000.5, e.Timestamp, 1e-6)

	e2 := AgentEvent{Timestamp: 42}
	e2.Stamp(now)
	assert.Equal(t, 42.0, e2.Timestamp)
	assert.Equal(t, int64(42), e2.Time().Unix())
}

func TestMessageIsStreaming(t *testing.T) {
	cases := []struct {
		msg  Message
		want bool
	}{
		{Message{ID: StreamingMessageID, Sender: SenderBot}, true},
		{Message{ID: "voice-bot-1", Sender: SenderBot}, true},
		{Message{ID: "voice-bot-1", Sender: SenderUser}, false},
		{Message{ID: "abc", Sender: SenderBot}, false},
		{Message{ID: WelcomeMessageID, Sender: SenderBot}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.msg.IsStreaming(), c.msg.ID)
	}
}
