// Package chat owns one conversation with the backend: the thread id, the
// message list, the thinking flag and the agent event stream for the thread.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridlink/activity"
	"gridlink/api"
	"gridlink/core"
	"gridlink/metrics"
	"gridlink/protocol"
	"gridlink/store"
)

const (
	DefaultWelcomeMessage  = "GRID established. How can I assist with your grid operations today?"
	DefaultEventBufferSize = 20
)

// Config configures a Controller.
type Config struct {
	WelcomeMessage string
	WorkflowID     string
	AgentID        string
	// Public sessions never send the bearer token and use their own thread.
	Public          bool
	EventBufferSize int
	// Grace is how long the last agent stays highlighted after a turn ends.
	Grace  time.Duration
	Logger *core.Logger
	Notify core.Notifier
	Now    func() time.Time
}

// Snapshot is a copy of the controller state. It shares nothing with the
// controller.
type Snapshot struct {
	ThreadID     string
	Messages     []core.Message
	Thinking     bool
	Input        string
	Events       []core.AgentEvent
	CurrentAgent string
	Open         bool
}

// Controller is safe for concurrent use. Hooks are called without internal
// locks held and may call back into the controller.
type Controller struct {
	cfg    Config
	api    *api.Client
	store  *store.Store
	logger *core.Logger

	OnThreadChange   func(threadID string)
	OnThinkingChange func(thinking bool)
	OnChange         func()

	mu            sync.Mutex
	activated     bool
	threadID      string
	messages      []core.Message
	thinking      bool
	input         string
	events        []core.AgentEvent
	currentAgent  string
	previousAgent string
	releasedAt    time.Time
	answerID      string
	open          bool
	stream        *api.EventStream
	streamDone    chan struct{}
}

func NewController(client *api.Client, st *store.Store, cfg Config) *Controller {
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = DefaultWelcomeMessage
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Grace <= 0 {
		cfg.Grace = activity.DefaultGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Controller{
		cfg:    cfg,
		api:    client,
		store:  st,
		logger: cfg.Logger.Component("chat"),
	}
}

// Scope is the thread storage scope of this controller.
func (c *Controller) Scope() store.ThreadScope {
	return store.ThreadScope{Public: c.cfg.Public, AgentID: c.cfg.AgentID}
}

// change collects what a mutation touched so hooks can run after unlock.
type change struct {
	thread   string
	thinking *bool
}

func (c *Controller) publish(ch change) {
	if ch.thread != "" && c.OnThreadChange != nil {
		c.OnThreadChange(ch.thread)
	}
	if ch.thinking != nil && c.OnThinkingChange != nil {
		c.OnThinkingChange(*ch.thinking)
	}
	if c.OnChange != nil {
		c.OnChange()
	}
}

// setThinkingLocked updates the flag. Clearing it also releases the current
// agent so the activity view can fade it out.
func (c *Controller) setThinkingLocked(v bool, ch *change) {
	if !v && c.currentAgent != "" {
		c.previousAgent = c.currentAgent
		c.releasedAt = c.cfg.Now()
		c.currentAgent = ""
	}
	if c.thinking == v {
		return
	}
	c.thinking = v
	ch.thinking = &v
}

// Activate resolves the thread id for this scope, creating and persisting
// one when none is stored, and seeds the welcome message. Only the first
// call has any effect.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.activated {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	id, created, err := c.store.ThreadID(ctx, c.Scope())
	if err != nil {
		return fmt.Errorf("chat: activate: %w", err)
	}

	c.mu.Lock()
	if c.activated {
		c.mu.Unlock()
		return nil
	}
	c.activated = true
	c.threadID = id
	c.messages = []core.Message{c.welcome()}
	c.mu.Unlock()

	c.logger.With(map[string]interface{}{"thread_id": id, "scope": c.Scope().String(), "created": created}).Info("chat session activated")
	c.publish(change{thread: id})
	return nil
}

// Reset starts a new thread: the stored id is replaced, the message list is
// reseeded with the welcome message and an open event stream follows the
// new thread.
func (c *Controller) Reset(ctx context.Context) error {
	id, err := c.store.ResetThreadID(ctx, c.Scope())
	if err != nil {
		return fmt.Errorf("chat: reset: %w", err)
	}

	c.mu.Lock()
	c.activated = true
	c.threadID = id
	c.messages = []core.Message{c.welcome()}
	open := c.open
	c.mu.Unlock()

	c.logger.With(map[string]interface{}{"thread_id": id}).Info("chat session reset")
	c.publish(change{thread: id})
	if open {
		c.syncStream(ctx)
	}
	return nil
}

func (c *Controller) welcome() core.Message {
	return core.Message{
		ID:        core.WelcomeMessageID,
		Sender:    core.SenderBot,
		Text:      c.cfg.WelcomeMessage,
		Timestamp: c.cfg.Now(),
		Actions: []core.Action{
			{Label: "Check System Health", Icon: "check-circle"},
			{Label: "View Active Incidents", Icon: "refresh"},
		},
	}
}

// LoadHistory replaces the message list with the stored turns of the
// current thread. An empty history leaves the list untouched. Failures are
// logged and otherwise ignored.
func (c *Controller) LoadHistory(ctx context.Context) {
	c.mu.Lock()
	tid := c.threadID
	c.mu.Unlock()
	if tid == "" {
		return
	}

	history, err := c.api.History(ctx, tid)
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err, "thread_id": tid}).Warn("failed to load history")
		return
	}
	c.logger.With(map[string]interface{}{"thread_id": tid, "count": len(history)}).Debug("history loaded")
	if len(history) == 0 {
		return
	}

	now := c.cfg.Now()
	loaded := make([]core.Message, len(history))
	for i, h := range history {
		loaded[i] = core.Message{
			ID:        fmt.Sprintf("%s%d", core.HistoryPrefix, i),
			Sender:    h.Sender,
			Text:      h.Text,
			Timestamp: now,
		}
	}

	c.mu.Lock()
	if c.threadID != tid {
		c.mu.Unlock()
		return
	}
	c.messages = loaded
	c.mu.Unlock()
	c.publish(change{})
}

// SetOpen tracks whether the conversation is visible. While open, the
// controller holds exactly one event stream for the current thread.
func (c *Controller) SetOpen(ctx context.Context, open bool) {
	c.mu.Lock()
	if c.open == open && (!open || c.stream != nil) {
		c.mu.Unlock()
		return
	}
	c.open = open
	c.mu.Unlock()
	c.syncStream(ctx)
}

// syncStream closes any previous stream, then, when open with a thread,
// loads history and opens a stream for the current thread.
func (c *Controller) syncStream(ctx context.Context) {
	c.detachStream()

	c.mu.Lock()
	open, tid := c.open, c.threadID
	c.mu.Unlock()
	if !open || tid == "" {
		return
	}

	c.LoadHistory(ctx)

	stream, err := c.api.OpenStream(ctx, tid)
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err, "thread_id": tid}).Warn("failed to open event stream")
		return
	}

	c.mu.Lock()
	if !c.open || c.threadID != tid || c.stream != nil {
		c.mu.Unlock()
		stream.Close()
		return
	}
	done := make(chan struct{})
	c.stream = stream
	c.streamDone = done
	c.mu.Unlock()

	go c.consume(stream, done)
}

// detachStream closes the current stream without waiting for its reader.
// Events the old reader still delivers are discarded.
func (c *Controller) detachStream() <-chan struct{} {
	c.mu.Lock()
	stream, done := c.stream, c.streamDone
	c.stream, c.streamDone = nil, nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	stream.Close()
	return done
}

func (c *Controller) consume(stream *api.EventStream, done chan struct{}) {
	defer close(done)
	l := c.logger.With(map[string]interface{}{"thread_id": stream.ThreadID})
	for {
		ev, err := stream.Next()
		if err != nil {
			var pe *api.ParseError
			if errors.As(err, &pe) {
				l.With(map[string]interface{}{"error": pe.Err, "payload": string(pe.Data)}).Error("malformed agent event")
				continue
			}
			if c.isCurrent(stream) {
				if errors.Is(err, io.EOF) {
					l.Info("event stream ended by server")
				} else {
					l.With(map[string]interface{}{"error": err}).Warn("event stream failed")
				}
				c.detachIfCurrent(stream)
			}
			return
		}
		c.foldEvent(stream, ev)
	}
}

func (c *Controller) isCurrent(stream *api.EventStream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream == stream
}

func (c *Controller) detachIfCurrent(stream *api.EventStream) {
	c.mu.Lock()
	if c.stream == stream {
		c.stream, c.streamDone = nil, nil
	}
	c.mu.Unlock()
	stream.Close()
}

// HandleEvent folds one agent event into the conversation state.
func (c *Controller) HandleEvent(ev core.AgentEvent) {
	c.foldEvent(nil, ev)
}

// foldEvent applies ev. A non-nil stream must still be the current one.
func (c *Controller) foldEvent(from *api.EventStream, ev core.AgentEvent) {
	var ch change
	c.mu.Lock()
	if from != nil && c.stream != from {
		c.mu.Unlock()
		return
	}
	ev.Stamp(c.cfg.Now())
	c.events = append(c.events, ev)
	if over := len(c.events) - c.cfg.EventBufferSize; over > 0 {
		c.events = append([]core.AgentEvent(nil), c.events[over:]...)
	}

	switch ev.Type {
	case core.EventAgentActive:
		c.currentAgent = ev.Data.Agent
	case core.EventUserTranscript:
		c.appendTranscriptLocked(ev.Data.Text)
	case core.EventTextChunk:
		c.mergeChunkLocked(ev.Data.Text)
		c.setThinkingLocked(false, &ch)
	}
	c.mu.Unlock()

	c.publish(ch)
}

// appendTranscriptLocked adds a voice transcript unless the previous message
// is the same user text.
func (c *Controller) appendTranscriptLocked(text string) {
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		if last.Sender == core.SenderUser && last.Text == text {
			return
		}
	}
	c.messages = append(c.messages, core.Message{
		ID:        core.VoiceUserPrefix + uuid.NewString(),
		Sender:    core.SenderUser,
		Text:      text,
		Timestamp: c.cfg.Now(),
	})
}

// mergeChunkLocked replaces the text of a trailing streaming bot message or
// starts a new one. Chunks carry the cumulative text. A chunk that only
// repeats the REST answer already shown for the turn is dropped. While a
// typed turn is in flight the new message takes the reserved streaming id
// so the REST answer replaces it.
func (c *Controller) mergeChunkLocked(text string) {
	if n := len(c.messages); n > 0 {
		last := &c.messages[n-1]
		if last.IsStreaming() {
			last.Text = text
			return
		}
		if last.ID == c.answerID && strings.HasPrefix(last.Text, text) {
			return
		}
	}
	id := core.VoiceBotPrefix + uuid.NewString()
	if c.thinking {
		id = core.StreamingMessageID
	}
	c.messages = append(c.messages, core.Message{
		ID:        id,
		Sender:    core.SenderBot,
		Text:      text,
		Timestamp: c.cfg.Now(),
	})
}

// settleStreamingLocked gives a leftover streaming placeholder a unique id
// so a later turn can open its own.
func (c *Controller) settleStreamingLocked() {
	for i := range c.messages {
		if c.messages[i].ID == core.StreamingMessageID {
			c.messages[i].ID = core.VoiceBotPrefix + uuid.NewString()
		}
	}
}

// SetInput replaces the draft text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
	c.publish(change{})
}

// HandleSend sends override, or the draft when override is empty, as one
// chat turn. Blank text does nothing. Every failure is turned into a bot
// message; the returned error is informational.
func (c *Controller) HandleSend(ctx context.Context, override string) error {
	text := override
	if text == "" {
		c.mu.Lock()
		text = c.input
		c.mu.Unlock()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var ch change
	userID := uuid.NewString()
	c.mu.Lock()
	c.messages = append(c.messages, core.Message{
		ID:        userID,
		Sender:    core.SenderUser,
		Text:      text,
		Timestamp: c.cfg.Now(),
	})
	if override == "" {
		c.input = ""
	}
	c.setThinkingLocked(true, &ch)
	tid := c.threadID
	c.mu.Unlock()
	c.publish(ch)

	if tid == "" {
		var err error
		if tid, err = c.adoptThread(ctx); err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("thread lookup failed, starting a new thread")
			tid = c.adoptNewThread(ctx)
		}
	}

	endpoint := protocol.PathChat
	if !c.cfg.Public && c.cfg.AgentID != "" {
		endpoint = protocol.PathAgentChat
	}
	req := protocol.ChatRequest{
		Message:    text,
		ThreadID:   tid,
		WorkflowID: c.cfg.WorkflowID,
		AgentID:    c.cfg.AgentID,
	}

	l := c.logger.With(map[string]interface{}{"thread_id": tid, "endpoint": endpoint})
	l.Debug("sending chat turn")
	resp, err := c.api.SendChat(ctx, endpoint, req, !c.cfg.Public)
	if err != nil {
		msg, class := c.describeError(err)
		metrics.ChatErrorsTotal.WithLabelValues(class).Inc()
		l.With(map[string]interface{}{"error": err, "class": class}).Error("chat turn failed")

		ch = change{}
		c.mu.Lock()
		c.setThinkingLocked(false, &ch)
		c.settleStreamingLocked()
		c.messages = append(c.messages, core.Message{
			ID:        uuid.NewString(),
			Sender:    core.SenderBot,
			Text:      msg,
			Timestamp: c.cfg.Now(),
		})
		c.mu.Unlock()
		if class == "transport" {
			c.cfg.Notify.Notify(core.NotifyError, core.KindTransport, msg)
		}
		c.publish(ch)
		return err
	}

	action := core.Action{Label: "More Info", Icon: "refresh", Variant: core.VariantOutline}
	if resp.Agent == "ticket_agent" {
		action = core.Action{Label: "View Ticket Progress", Icon: "refresh", Variant: core.VariantDefault}
	}

	ch = change{}
	c.mu.Lock()
	c.setThinkingLocked(false, &ch)
	// the REST answer supersedes any partial streamed for this turn
	kept := c.messages[:0]
	afterTurn := false
	for _, m := range c.messages {
		if m.ID == userID {
			afterTurn = true
		}
		if m.IsStreaming() && (afterTurn || m.ID == core.StreamingMessageID) {
			continue
		}
		kept = append(kept, m)
	}
	answer := core.Message{
		ID:        uuid.NewString(),
		Sender:    core.SenderBot,
		Text:      resp.Response,
		Timestamp: c.cfg.Now(),
		Actions:   []core.Action{action},
	}
	c.messages = append(kept, answer)
	c.answerID = answer.ID
	c.mu.Unlock()
	l.With(map[string]interface{}{"agent": resp.Agent}).Debug("chat turn answered")
	c.publish(ch)
	return nil
}

// adoptThread resolves a thread id for a send that raced activation.
func (c *Controller) adoptThread(ctx context.Context) (string, error) {
	id, _, err := c.store.ThreadID(ctx, c.Scope())
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	if c.threadID != "" {
		id = c.threadID
		c.mu.Unlock()
		return id, nil
	}
	c.threadID = id
	c.mu.Unlock()
	c.publish(change{thread: id})
	return id, nil
}

// adoptNewThread generates a thread id when the store could not supply one.
// The id is kept for later sends and persisted when the store allows it.
func (c *Controller) adoptNewThread(ctx context.Context) string {
	id := store.NewThreadID()
	c.mu.Lock()
	if c.threadID != "" {
		id = c.threadID
		c.mu.Unlock()
		return id
	}
	c.threadID = id
	c.mu.Unlock()

	if err := c.store.SetThreadID(ctx, c.Scope(), id); err != nil {
		c.logger.With(map[string]interface{}{"error": err, "thread_id": id}).Warn("failed to persist thread id")
	}
	c.publish(change{thread: id})
	return id
}

func (c *Controller) describeError(err error) (text, class string) {
	var de *api.DecodeError
	if errors.As(err, &de) {
		return fmt.Sprintf("GRID error (%d): Server malfunction", de.Code), "protocol"
	}
	var se *api.StatusError
	if !errors.As(err, &se) {
		return "GRID interrupted. Please ensure the backend is running.", "transport"
	}
	switch se.Code {
	case 401:
		if c.cfg.Public {
			return "GRID failed: Unauthorized. This session may have expired.", "unauthorized"
		}
		return "GRID failed: Unauthorized. Please log in to your account.", "unauthorized"
	case 403:
		return "GRID failed: Forbidden. You don't have permission to use this agent.", "forbidden"
	}
	detail := se.Detail
	if detail == "" {
		detail = "Server malfunction"
	}
	return fmt.Sprintf("GRID error (%d): %s", se.Code, detail), "status"
}

// FinishConversation archives the thread on the server and starts a new
// one. On failure the conversation is left as is.
func (c *Controller) FinishConversation(ctx context.Context) error {
	c.mu.Lock()
	tid := c.threadID
	c.mu.Unlock()
	if tid == "" {
		return nil
	}

	if err := c.api.FinishSession(ctx, tid); err != nil {
		c.logger.With(map[string]interface{}{"error": err, "thread_id": tid}).Error("failed to finish session")
		c.cfg.Notify.Notify(core.NotifyError, core.KindGeneral, "Failed to archive conversation.")
		return fmt.Errorf("chat: finish conversation: %w", err)
	}
	c.cfg.Notify.Notify(core.NotifySuccess, core.KindGeneral, "Conversation finished & archived.")
	return c.Reset(ctx)
}

// ThreadID returns the active thread id, or "" before activation.
func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]core.Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		ThreadID:     c.threadID,
		Messages:     msgs,
		Thinking:     c.thinking,
		Input:        c.input,
		Events:       append([]core.AgentEvent(nil), c.events...),
		CurrentAgent: c.currentAgent,
		Open:         c.open,
	}
}

// Activity projects the agent activity view at now.
func (c *Controller) Activity(now time.Time, feedLimit int) activity.View {
	c.mu.Lock()
	in := activity.Input{
		Events:        append([]core.AgentEvent(nil), c.events...),
		CurrentAgent:  c.currentAgent,
		PreviousAgent: c.previousAgent,
		ReleasedAt:    c.releasedAt,
		Thinking:      c.thinking,
		Now:           now,
		Grace:         c.cfg.Grace,
		FeedLimit:     feedLimit,
	}
	c.mu.Unlock()
	return activity.Project(in)
}

// Close closes the event stream and waits for its reader to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	if done := c.detachStream(); done != nil {
		<-done
	}
	return nil
}
