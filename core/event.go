package core

import (
	"encoding/json"
	"math"
	"time"
)

// EventType identifies an AgentEvent variant.
type EventType string

const (
	EventAgentActive    EventType = "agent_active"
	EventToolCall       EventType = "tool_call"
	EventRAGRetrieval   EventType = "rag_retrieval"
	EventUserTranscript EventType = "user_transcript"
	EventTextChunk      EventType = "text_chunk"
)

// Known reports whether t is one of the event types this client dispatches on.
func (t EventType) Known() bool {
	switch t {
	case EventAgentActive, EventToolCall, EventRAGRetrieval, EventUserTranscript, EventTextChunk:
		return true
	}
	return false
}

// Tool call statuses.
const (
	ToolStarted   = "started"
	ToolCompleted = "completed"
	ToolFailed    = "failed"
)

// EventData is the union of every AgentEvent payload. Only the fields of the
// event's variant are populated.
type EventData struct {
	Agent   string          `json:"agent,omitempty"`
	Message string          `json:"message,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Status  string          `json:"status,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// AgentEvent is one observation pushed by the backend over SSE.
type AgentEvent struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
	// Timestamp is seconds since the epoch. Zero means the server did not
	// supply one.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Stamp fills in Timestamp from now when the server left it out.
func (e *AgentEvent) Stamp(now time.Time) {
	if e.Timestamp == 0 {
		e.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	}
}

// Time converts Timestamp to a time.Time.
func (e AgentEvent) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
