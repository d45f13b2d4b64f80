// Package voice runs a duplex voice call over the backend's voice socket:
// microphone blocks go up as PCM frames, agent audio comes back and is
// played gaplessly, and local voice activity interrupts playback.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"gridlink/core"
	"gridlink/media"
	"gridlink/metrics"
	"gridlink/protocol"
	"gridlink/transports/websocket"
	"gridlink/utils/audio"
)

// DefaultVADThreshold is the mean absolute amplitude above which a captured
// block counts as speech.
const DefaultVADThreshold = 2000

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusClosed
}

// Config configures a Session.
type Config struct {
	// URL is the full voice endpoint including the thread_id query.
	URL          string
	Header       http.Header
	Microphone   media.Microphone
	NewContext   media.ContextFactory
	SampleRate   int
	VADThreshold float64
	Logger       *core.Logger
	Notify       core.Notifier
}

// State is a snapshot of the session flags.
type State struct {
	Status        Status
	Muted         bool
	UserSpeaking  bool
	AgentSpeaking bool
}

// Session owns one socket, one capturer and one player for the duration of
// a call. It cannot be restarted once it has ended.
type Session struct {
	cfg    Config
	logger *core.Logger
	player *media.Player

	// OnStatusChange is called after every status transition.
	OnStatusChange func(Status)
	// OnDisconnect is called once when the server or the network ends the
	// call. It is not called after the owner's own Close.
	OnDisconnect func()

	// mu guards the flags below and serializes capture callbacks with
	// inbound frames.
	mu            sync.Mutex
	status        Status
	muted         bool
	userSpeaking  bool
	agentSpeaking bool
	started       bool
	finished      bool
	connected     bool
	conn          *websocket.Client
	capturer      *media.Capturer
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewSession validates cfg and creates an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("voice: URL is required")
	}
	if cfg.Microphone == nil {
		return nil, errors.New("voice: Microphone is required")
	}
	if cfg.NewContext == nil {
		return nil, errors.New("voice: NewContext is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.WireSampleRate
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = DefaultVADThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	logger := cfg.Logger.Component("voice")

	s := &Session{
		cfg:    cfg,
		logger: logger,
		status: StatusIdle,
		done:   make(chan struct{}),
	}
	s.player = media.NewPlayer(cfg.SampleRate, cfg.NewContext, cfg.Logger)
	s.player.OnDrained = s.playbackDrained
	return s, nil
}

// Start dials the voice endpoint and starts the microphone. It returns once
// the call is live or has failed; on failure every resource is released and
// the status is StatusError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("voice: session already started")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.status = StatusConnecting
	s.mu.Unlock()
	s.emitStatus(StatusConnecting)

	s.logger.With(map[string]interface{}{"url": s.cfg.URL}).Info("dialing voice endpoint")
	conn, err := websocket.Dial(ctx, s.cfg.URL, s.cfg.Header, s.cfg.Logger)
	if err != nil {
		if s.shutdown(StatusError) {
			s.cfg.Notify.Notify(core.NotifyError, core.KindTransport, "Voice initialization failed")
		}
		return fmt.Errorf("voice: %w", err)
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		conn.Close()
		return errors.New("voice: session closed while connecting")
	}
	s.conn = conn
	s.connected = true
	s.status = StatusConnected
	s.mu.Unlock()

	metrics.VoiceSessionsActive.Inc()
	conn.StartReceiving(s.handleFrame, s.handleClose)
	s.emitStatus(StatusConnected)
	s.cfg.Notify.Notify(core.NotifySuccess, core.KindGeneral, "Voice Connected")

	capturer := media.NewCapturer(s.cfg.Microphone, s.handleCapture, s.cfg.Logger)
	if err := capturer.Start(ctx); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Error("microphone start failed")
		if s.shutdown(StatusError) {
			s.cfg.Notify.Notify(core.NotifyError, core.KindPermission, "Microphone access failed")
		}
		return fmt.Errorf("voice: start microphone: %w", err)
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		capturer.Stop()
		return nil
	}
	s.capturer = capturer
	s.mu.Unlock()
	return nil
}

// SetMuted gates outbound audio. Voice activity detection keeps running
// while muted.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Status:        s.status,
		Muted:         s.muted,
		UserSpeaking:  s.userSpeaking,
		AgentSpeaking: s.agentSpeaking,
	}
}

// Done is closed once the session has ended for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the call and releases the socket, microphone and playback, in
// that order. Safe to call at any time and more than once.
func (s *Session) Close() {
	s.shutdown(StatusClosed)
}

// handleCapture runs on the capturer goroutine for every block.
func (s *Session) handleCapture(block []int16) {
	level := audio.MeanAbsAmplitude(block)

	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	speech := level > s.cfg.VADThreshold
	switch {
	case speech && (!s.userSpeaking || s.agentSpeaking):
		s.logger.Debug("user speech detected, interrupting playback", "level", level)
		s.player.ClearBuffer()
		s.userSpeaking = true
		s.agentSpeaking = false
		metrics.BargeInsTotal.WithLabelValues("vad").Inc()
	case !speech && s.userSpeaking:
		s.userSpeaking = false
	}
	muted := s.muted
	conn := s.conn
	s.mu.Unlock()

	if muted {
		metrics.RecordVoiceFrame("out", "muted")
		return
	}
	if err := conn.SendBinary(audio.PCM16ToBytes(block)); err != nil {
		s.logger.Debug("dropping captured block", "error", err)
		metrics.RecordVoiceFrame("out", "dropped")
		return
	}
	metrics.RecordVoiceFrame("out", "sent")
}

// handleFrame runs on the socket reader goroutine.
func (s *Session) handleFrame(f websocket.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}

	if !f.Binary {
		if string(f.Data) == protocol.InterruptSignal {
			s.logger.Debug("server interrupt received")
			s.player.ClearBuffer()
			s.userSpeaking = true
			s.agentSpeaking = false
			metrics.BargeInsTotal.WithLabelValues("server").Inc()
		}
		return
	}

	if s.userSpeaking {
		metrics.RecordVoiceFrame("in", "dropped")
		return
	}
	if err := s.player.PlayChunk(audio.BytesToPCM16(f.Data)); err != nil {
		s.logger.Warn("failed to play agent audio", "error", err)
		metrics.RecordVoiceFrame("in", "dropped")
		return
	}
	s.agentSpeaking = true
	metrics.RecordVoiceFrame("in", "played")
}

func (s *Session) handleClose(ev websocket.CloseEvent) {
	normal := websocket.IsNormalClose(ev.Code)
	kind := "normal"
	final := StatusClosed
	if !normal {
		kind = "abnormal"
		final = StatusError
	}
	metrics.VoiceDisconnectsTotal.WithLabelValues(kind).Inc()

	if !s.shutdown(final) {
		return
	}
	l := s.logger.With(map[string]interface{}{"code": ev.Code, "reason": ev.Reason})
	if normal {
		l.Info("voice connection closed")
	} else {
		l.With(map[string]interface{}{"error": ev.Err}).Warn("voice connection lost")
		s.cfg.Notify.Notify(core.NotifyError, core.KindTransport, fmt.Sprintf("Voice connection lost (code %d)", ev.Code))
	}
	if s.OnDisconnect != nil {
		s.OnDisconnect()
	}
}

func (s *Session) playbackDrained() {
	s.mu.Lock()
	s.agentSpeaking = false
	s.mu.Unlock()
}

// shutdown releases every resource and moves to final. It reports whether
// this call did the work.
func (s *Session) shutdown(final Status) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	s.status = final
	s.userSpeaking = false
	s.agentSpeaking = false
	conn, capturer, cancel, connected := s.conn, s.capturer, s.cancel, s.connected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("socket close", "error", err)
		}
	}
	if capturer != nil {
		capturer.Stop()
	}
	s.player.Stop()
	if connected {
		metrics.VoiceSessionsActive.Dec()
	}
	close(s.done)
	s.emitStatus(final)
	return true
}

func (s *Session) emitStatus(status Status) {
	if s.OnStatusChange != nil {
		s.OnStatusChange(status)
	}
}
