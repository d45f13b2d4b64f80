// Package activity derives the agent activity view from the event buffer.
// Everything here is a pure function of its Input.
package activity

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"gridlink/core"
)

// Stage is a pipeline step the backend agents map onto.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageIntent     Stage = "intent"
	StageKnowledge  Stage = "knowledge"
	StageAction     Stage = "action"
	StageDiagnostic Stage = "diagnostic"
	StageGeneric    Stage = "generic"
)

// Stages lists the named pipeline nodes in display order.
var Stages = []Stage{StageIntent, StageKnowledge, StageAction, StageDiagnostic}

// NodeState is the visual state of one pipeline node.
type NodeState string

const (
	NodeIdle      NodeState = "idle"
	NodeActive    NodeState = "active"
	NodeCompleted NodeState = "completed"
)

const (
	StatusRouting     = "ANALYZING INTENT & DELEGATING..."
	StatusRetrieving  = "RETRIEVING KNOWLEDGE..."
	StatusTicketing   = "CREATING INCIDENT TICKET..."
	StatusDiagnosing  = "EXECUTING DIAGNOSTICS..."
	StatusProcessing  = "PROCESSING REQUEST..."
	StatusComplete    = "OPERATION COMPLETE"
	StatusReady       = "SYSTEM READY - AWAITING INPUT"
	DefaultGrace      = 1500 * time.Millisecond
	WidgetFeedLimit   = 5
	FullFeedLimit     = 50
	inputPreviewRunes = 40
)

// Input is everything the view depends on.
type Input struct {
	Events []core.AgentEvent
	// CurrentAgent is the agent named by the latest agent_active event of the
	// running turn. Empty once the turn has finished.
	CurrentAgent string
	// PreviousAgent and ReleasedAt record the agent that was current when the
	// last turn finished.
	PreviousAgent string
	ReleasedAt    time.Time
	Thinking      bool
	Now           time.Time
	Grace         time.Duration
	FeedLimit     int
}

// FeedItem is one line of the activity log.
type FeedItem struct {
	Type      core.EventType
	Title     string
	Detail    string
	Status    string
	Timestamp float64
}

type View struct {
	Stage  Stage
	Status string
	Nodes  map[Stage]NodeState
	Feed   []FeedItem
}

// Normalize maps a backend agent name onto a stage.
func Normalize(agent string) Stage {
	name := strings.ToLower(strings.TrimSpace(agent))
	switch {
	case name == "":
		return StageIdle
	case name == "support" || name == "supervisor" || strings.HasPrefix(name, "intent"):
		return StageIntent
	case name == "rag" || strings.HasPrefix(name, "knowledge") || name == "public_knowledge":
		return StageKnowledge
	case strings.HasPrefix(name, "ticket"):
		return StageAction
	case strings.HasPrefix(name, "analyze"), strings.HasPrefix(name, "iot"), strings.HasPrefix(name, "diagnostic"):
		return StageDiagnostic
	default:
		return StageGeneric
	}
}

// Project computes the view for in.
func Project(in Input) View {
	stage := activeStage(in)
	feed := Feed(in.Events, in.FeedLimit)
	return View{
		Stage:  stage,
		Status: statusText(stage, in.Thinking, len(feed)),
		Nodes:  nodeStates(stage),
		Feed:   feed,
	}
}

func activeStage(in Input) Stage {
	if in.CurrentAgent != "" {
		return Normalize(in.CurrentAgent)
	}
	if in.PreviousAgent == "" {
		return StageIdle
	}
	grace := in.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	if in.Thinking || in.Now.Sub(in.ReleasedAt) < grace {
		return Normalize(in.PreviousAgent)
	}
	return StageIdle
}

func statusText(stage Stage, thinking bool, feedLen int) string {
	if thinking {
		switch stage {
		case StageIntent:
			return StatusRouting
		case StageKnowledge:
			return StatusRetrieving
		case StageAction:
			return StatusTicketing
		case StageDiagnostic:
			return StatusDiagnosing
		}
		return StatusProcessing
	}
	if stage != StageIdle && feedLen > 0 {
		return StatusComplete
	}
	return StatusReady
}

func nodeStates(stage Stage) map[Stage]NodeState {
	nodes := make(map[Stage]NodeState, len(Stages))
	for _, s := range Stages {
		nodes[s] = NodeIdle
	}
	switch stage {
	case StageKnowledge, StageAction:
		nodes[StageIntent] = NodeCompleted
	case StageDiagnostic:
		nodes[StageIntent] = NodeCompleted
		nodes[StageAction] = NodeCompleted
	}
	if _, ok := nodes[stage]; ok {
		nodes[stage] = NodeActive
	}
	return nodes
}

// Feed returns the last limit agent_active and tool_call events as log
// lines, oldest first. A non-positive limit means WidgetFeedLimit.
func Feed(events []core.AgentEvent, limit int) []FeedItem {
	if limit <= 0 {
		limit = WidgetFeedLimit
	}
	var items []FeedItem
	for _, ev := range events {
		if ev.Type != core.EventToolCall && ev.Type != core.EventAgentActive {
			continue
		}
		items = append(items, FeedItem{
			Type:      ev.Type,
			Title:     eventTitle(ev),
			Detail:    eventDetail(ev),
			Status:    ev.Data.Status,
			Timestamp: ev.Timestamp,
		})
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

func eventTitle(ev core.AgentEvent) string {
	switch ev.Type {
	case core.EventAgentActive:
		return "Agent: " + ev.Data.Agent
	case core.EventToolCall:
		return "Tool: " + ev.Data.Tool
	}
	return "System Event"
}

func eventDetail(ev core.AgentEvent) string {
	switch ev.Type {
	case core.EventAgentActive:
		return ev.Data.Message
	case core.EventToolCall:
		switch ev.Data.Status {
		case core.ToolStarted:
			if preview := inputPreview(ev.Data.Input); preview != "" {
				return "Input: " + preview + "..."
			}
			return "Started execution..."
		case core.ToolCompleted:
			return "Completed successfully"
		}
		return "Failed: " + ev.Data.Error
	}
	return ""
}

func inputPreview(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		buf.Reset()
		buf.Write(trimmed)
	}
	r := []rune(buf.String())
	if len(r) > inputPreviewRunes {
		r = r[:inputPreviewRunes]
	}
	return string(r)
}
