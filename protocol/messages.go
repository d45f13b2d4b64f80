package protocol

import (
	"encoding/json"
	"strings"

	"gridlink/core"
)

// InterruptSignal is the text frame the voice endpoint sends when the
// server detects the user talking over the agent.
const InterruptSignal = "__INTERRUPT__"

// REST paths, relative to the API base URL.
const (
	PathChat        = "/chat/"
	PathAgentChat   = "/chat/agent"
	PathHistory     = "/chat/history/"
	PathStream      = "/chat/stream/"
	PathSessions    = "/sessions/"
	PathTicketStats = "/tickets/stats"
	PathVoice       = "/ws/voice"
)

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Message    string `json:"message"`
	ThreadID   string `json:"thread_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
}

// ChatResponse is the reply to a chat turn. Agent names the backend agent
// that produced the answer.
type ChatResponse struct {
	Response string `json:"response"`
	Agent    string `json:"agent,omitempty"`
}

// HistoryMessage is one stored turn.
type HistoryMessage struct {
	Text   string      `json:"text"`
	Sender core.Sender `json:"sender"`
}

type HistoryResponse struct {
	Messages []HistoryMessage `json:"messages"`
}

// ErrorResponse is the error body the backend returns on non-2xx. Detail is
// either a string or a list of validation errors.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail,omitempty"`
}

// DetailText renders Detail as a single line, or "" when absent.
func (e ErrorResponse) DetailText() string {
	raw := strings.TrimSpace(string(e.Detail))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return raw
}

// TicketStats is the dashboard summary for the current user.
type TicketStats struct {
	ActiveCount   int             `json:"activeCount"`
	TotalCount    int             `json:"totalCount"`
	ResolvedCount int             `json:"resolvedCount"`
	Efficiency    string          `json:"efficiency"`
	LatestTicket  json.RawMessage `json:"latestTicket,omitempty"`
	SystemStatus  string          `json:"systemStatus"`
}
