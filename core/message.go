package core

import (
	"strings"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Reserved message ids.
const (
	StreamingMessageID = "streaming"
	WelcomeMessageID   = "welcome"

	VoiceBotPrefix  = "voice-bot-"
	VoiceUserPrefix = "voice-user-"
	HistoryPrefix   = "hist-"
)

// ActionVariant is the visual weight of a quick action.
type ActionVariant string

const (
	VariantDefault   ActionVariant = "default"
	VariantOutline   ActionVariant = "outline"
	VariantSecondary ActionVariant = "secondary"
)

// Action is a quick reply attached to a bot message.
type Action struct {
	Label   string        `json:"label"`
	Icon    string        `json:"icon,omitempty"`
	Variant ActionVariant `json:"variant,omitempty"`
}

// Message is one chat turn.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Actions   []Action  `json:"actions,omitempty"`
}

// IsStreaming reports whether the message is a bot message that text chunks
// may overwrite in place.
func (m Message) IsStreaming() bool {
	if m.Sender != SenderBot {
		return false
	}
	return m.ID == StreamingMessageID || strings.HasPrefix(m.ID, VoiceBotPrefix)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Actions != nil {
		m.Actions = append([]Action(nil), m.Actions...)
	}
	return m
}
