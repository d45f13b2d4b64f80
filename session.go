package main

import (
	"context"
	"errors"
	"sync"

	"gridlink/chat"
	"gridlink/core"
	"gridlink/voice"
)

// threadLogs is a core.LogWriter that follows the controller across thread
// resets, so each thread gets its own log file.
type threadLogs struct {
	dir   string
	scope string

	mu       sync.Mutex
	threadID string
	cur      *core.SessionLogWriter
}

func (t *threadLogs) Switch(threadID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if threadID == t.threadID {
		return nil
	}
	w, err := core.NewSessionLogWriter(t.dir, threadID, t.scope)
	if err != nil {
		return err
	}
	if t.cur != nil {
		t.cur.Close()
	}
	t.cur = w
	t.threadID = threadID
	return nil
}

func (t *threadLogs) Write(level, msg string, attrs map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		t.cur.Write(level, msg, attrs)
	}
}

func (t *threadLogs) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		t.cur.Close()
		t.cur = nil
	}
}

// session ties one chat controller to the console and, on demand, to a
// voice call on the same thread.
type session struct {
	app    *app
	out    *console
	logger *core.Logger
	logs   *threadLogs
	ctl    *chat.Controller

	mu   sync.Mutex
	call *voice.Session
}

// newSession activates the chat controller for the configured scope.
func newSession(ctx context.Context, a *app, out *console) (*session, error) {
	s := &session{app: a, out: out, logger: a.logger}

	if dir := a.settings.Log.Dir; dir != "" {
		tid, _, err := a.store.ThreadID(ctx, a.scope())
		if err != nil {
			return nil, err
		}
		s.logs = &threadLogs{dir: dir, scope: a.scope().String()}
		if err := s.logs.Switch(tid); err != nil {
			return nil, err
		}
		s.logger = core.NewSessionLogger(a.logger, s.logs)
	}

	ctl := a.settings.Chat.BuildController(a.client, a.store, s.logger, out.Notifier())
	ctl.OnThreadChange = func(threadID string) {
		out.Forget()
		out.Printf("thread %s\n", threadID)
		if s.logs != nil {
			if err := s.logs.Switch(threadID); err != nil {
				s.logger.With(map[string]interface{}{"error": err}).Warn("switching thread log")
			}
		}
	}
	ctl.OnThinkingChange = func(thinking bool) {
		if thinking {
			out.Printf("... thinking\n")
		}
	}
	ctl.OnChange = func() {
		out.Messages(ctl.Snapshot().Messages)
	}
	s.ctl = ctl

	if err := ctl.Activate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Voice returns the current call, if any.
func (s *session) Voice() *voice.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (s *session) state() (*chat.Controller, *voice.Session) {
	return s.ctl, s.Voice()
}

// StartCall opens a voice call on the current thread. The event stream is
// opened too so transcripts show up in the conversation.
func (s *session) StartCall(ctx context.Context) (*voice.Session, error) {
	s.mu.Lock()
	if s.call != nil && !s.call.State().Status.Terminal() {
		s.mu.Unlock()
		return nil, errors.New("a call is already active")
	}
	s.mu.Unlock()

	s.ctl.SetOpen(ctx, true)
	url := s.app.client.VoiceURL(s.ctl.ThreadID())
	call, err := s.app.settings.Voice.BuildSession(url, s.logger, s.out.Notifier())
	if err != nil {
		return nil, err
	}
	call.OnStatusChange = func(st voice.Status) {
		s.out.Printf("[voice] %s\n", st)
	}
	call.OnDisconnect = func() {
		s.out.Printf("[voice] call ended by the server\n")
	}

	s.mu.Lock()
	s.call = call
	s.mu.Unlock()
	if err := call.Start(ctx); err != nil {
		return call, err
	}
	return call, nil
}

func (s *session) SetMuted(muted bool) bool {
	call := s.Voice()
	if call == nil || call.State().Status != voice.StatusConnected {
		return false
	}
	call.SetMuted(muted)
	return true
}

func (s *session) HangUp() {
	if call := s.Voice(); call != nil {
		call.Close()
	}
}

// Close hangs up, stops the event stream and closes the thread log.
func (s *session) Close() {
	s.HangUp()
	if s.ctl != nil {
		if err := s.ctl.Close(); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Debug("closing chat controller")
		}
	}
	if s.logs != nil {
		s.logs.Close()
	}
}
