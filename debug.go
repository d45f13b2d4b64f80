package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridlink/activity"
	"gridlink/chat"
	"gridlink/core"
	"gridlink/voice"
)

// debugState is the /state payload.
type debugState struct {
	ThreadID     string            `json:"thread_id"`
	Open         bool              `json:"open"`
	Thinking     bool              `json:"thinking"`
	CurrentAgent string            `json:"current_agent,omitempty"`
	Messages     []core.Message    `json:"messages"`
	Events       []core.AgentEvent `json:"events"`
	Activity     activityState     `json:"activity"`
	Voice        *voiceState       `json:"voice,omitempty"`
}

type activityState struct {
	Stage  activity.Stage                        `json:"stage"`
	Status string                                `json:"status"`
	Nodes  map[activity.Stage]activity.NodeState `json:"nodes"`
	Feed   []activity.FeedItem                   `json:"feed"`
}

type voiceState struct {
	Status        voice.Status `json:"status"`
	Muted         bool         `json:"muted"`
	UserSpeaking  bool         `json:"user_speaking"`
	AgentSpeaking bool         `json:"agent_speaking"`
}

// stateFunc returns the controller and, when a call is up, the voice session.
type stateFunc func() (*chat.Controller, *voice.Session)

func buildDebugState(ctl *chat.Controller, sess *voice.Session, now time.Time) debugState {
	snap := ctl.Snapshot()
	view := ctl.Activity(now, activity.FullFeedLimit)
	st := debugState{
		ThreadID:     snap.ThreadID,
		Open:         snap.Open,
		Thinking:     snap.Thinking,
		CurrentAgent: snap.CurrentAgent,
		Messages:     snap.Messages,
		Events:       snap.Events,
		Activity: activityState{
			Stage:  view.Stage,
			Status: view.Status,
			Nodes:  view.Nodes,
			Feed:   view.Feed,
		},
	}
	if sess != nil {
		vs := sess.State()
		st.Voice = &voiceState{
			Status:        vs.Status,
			Muted:         vs.Muted,
			UserSpeaking:  vs.UserSpeaking,
			AgentSpeaking: vs.AgentSpeaking,
		}
	}
	return st
}

func newDebugRouter(state stateFunc, logger *core.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		ctl, sess := state()
		if ctl == nil {
			http.Error(w, "no active session", http.StatusServiceUnavailable)
			return
		}
		body, err := sonic.Marshal(buildDebugState(ctl, sess, time.Now()))
		if err != nil {
			logger.With(map[string]interface{}{"error": err}).Error("encode debug state")
			http.Error(w, "encode state", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return r
}

// serveDebug runs the debug server until ctx is done.
func serveDebug(ctx context.Context, addr string, handler http.Handler, logger *core.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.With(map[string]interface{}{"addr": addr}).Info("debug server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.With(map[string]interface{}{"error": err}).Warn("debug server forced to shutdown")
		return err
	}
	return nil
}
