package factories

import (
	"context"
	"fmt"
	"io"

	"gridlink/api"
	"gridlink/auth"
	"gridlink/chat"
	"gridlink/core"
	"gridlink/media"
	"gridlink/stats"
	"gridlink/store"
	"gridlink/store/db/memory"
	"gridlink/store/db/sqlite"
	"gridlink/utils/audio"
	"gridlink/voice"
)

// Build opens the configured store driver.
func (c StoreConfig) Build(ctx context.Context, logger *core.Logger) (*store.Store, error) {
	if !c.Persist {
		logger.Debug("using in-memory state store")
		return store.New(memory.New()), nil
	}
	db, err := sqlite.Open(ctx, c.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	logger.With(map[string]interface{}{"path": c.Path}).Debug("opened sqlite state store")
	return store.New(db), nil
}

// TokenSource returns the configured bearer token source, wrapped so that an
// expired JWT is reported once.
func (c SettingsConfig) TokenSource(logger *core.Logger) auth.TokenSource {
	var src auth.TokenSource = auth.StaticToken(c.Token)
	if c.TokenFile != "" {
		src = auth.FileToken{Path: c.TokenFile}
	}
	return auth.NewChecked(src, logger)
}

// BuildAPIClient constructs the backend client. Request lifetimes are bounded
// by the caller's context so the event stream is never cut by a client
// timeout.
func (c SettingsConfig) BuildAPIClient(logger *core.Logger) (*api.Client, error) {
	client, err := api.NewClient(api.Config{
		BaseURL: c.BaseURL,
		Tokens:  c.TokenSource(logger),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	if !c.Chat.Public && !client.HasToken() {
		logger.Warn("no bearer token configured; authenticated requests will be rejected (use --public for a public session)")
	}
	return client, nil
}

// BuildController constructs a chat controller for the configured scope.
func (c ChatConfig) BuildController(client *api.Client, st *store.Store, logger *core.Logger, notify core.Notifier) *chat.Controller {
	return chat.NewController(client, st, chat.Config{
		WelcomeMessage:  c.WelcomeMessage,
		WorkflowID:      c.WorkflowID,
		AgentID:         c.AgentID,
		Public:          c.Public,
		EventBufferSize: c.EventBufferSize,
		Grace:           c.Grace,
		Logger:          logger,
		Notify:          notify,
	})
}

// Microphone returns the file-backed microphone when MicFile is set and the
// ffmpeg device capture otherwise.
func (c VoiceConfig) Microphone() media.Microphone {
	if c.MicFile != "" {
		return media.FileMicrophone{Path: c.MicFile, Loop: c.MicLoop}
	}
	return media.FFmpegMicrophone{SampleRate: audio.WireSampleRate, Device: c.MicDevice}
}

// ContextFactory returns the playback sink for agent audio.
func (c VoiceConfig) ContextFactory(logger *core.Logger) (media.ContextFactory, error) {
	var open func(sampleRate int) (io.Writer, error)
	switch c.Output {
	case OutputFFplay, "":
		open = func(sampleRate int) (io.Writer, error) {
			out, err := media.NewFFplayOutput(sampleRate)
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	case OutputDiscard:
		open = func(int) (io.Writer, error) { return io.Discard, nil }
	default:
		return nil, fmt.Errorf("voice: unknown output %q", c.Output)
	}
	return media.StreamContextFactory(open, logger), nil
}

// BuildSession constructs a voice session for the given voice endpoint URL.
func (c VoiceConfig) BuildSession(voiceURL string, logger *core.Logger, notify core.Notifier) (*voice.Session, error) {
	newContext, err := c.ContextFactory(logger)
	if err != nil {
		return nil, err
	}
	return voice.NewSession(voice.Config{
		URL:          voiceURL,
		Microphone:   c.Microphone(),
		NewContext:   newContext,
		SampleRate:   audio.WireSampleRate,
		VADThreshold: c.VADThreshold,
		Logger:       logger,
		Notify:       notify,
	})
}

// BuildStatsService constructs the ticket stats service.
func BuildStatsService(client *api.Client, st *store.Store, logger *core.Logger) *stats.Service {
	return stats.NewService(client, st, logger)
}
