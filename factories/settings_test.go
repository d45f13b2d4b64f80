package factories

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
	"gridlink/media"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultSettingsConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Chat.EventBufferSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Chat.Grace)
	assert.Equal(t, float64(2000), cfg.Voice.VADThreshold)
}

func TestSettingsFromYAML(t *testing.T) {
	path := writeFile(t, "gridlink.yaml", `
base_url: https://grid.example.com/
token: abc
chat:
  agent_id: knowledge_agent
  event_buffer: 11
  grace: 2s
voice:
  vad_threshold: 1500
  output: discard
store:
  persist: false
`)
	cfg, err := SettingsConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://grid.example.com", cfg.BaseURL)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "knowledge_agent", cfg.Chat.AgentID)
	assert.Equal(t, 11, cfg.Chat.EventBufferSize)
	assert.Equal(t, 2*time.Second, cfg.Chat.Grace)
	assert.Equal(t, float64(1500), cfg.Voice.VADThreshold)
	assert.Equal(t, OutputDiscard, cfg.Voice.Output)
	assert.False(t, cfg.Store.Persist)
	// untouched keys keep their defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "GRID established. How can I assist with your grid operations today?", cfg.Chat.WelcomeMessage)
}

func TestSettingsFromJSON(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{"base_url":"http://10.0.0.5:8000","chat":{"public":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8000", cfg.BaseURL)
	assert.True(t, cfg.Chat.Public)

	_, err = SettingsConfigFromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "gridlink.yaml", "base_url: http://file.example\nchat:\n  agent_id: from_file\n")
	t.Setenv("GRIDLINK_CHAT_AGENT_ID", "from_env")
	t.Setenv("GRIDLINK_VOICE_VAD_THRESHOLD", "900")
	t.Setenv("GRIDLINK_CHAT_GRACE", "250ms")

	cfg, err := LoadSettings(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://file.example", cfg.BaseURL)
	assert.Equal(t, "from_env", cfg.Chat.AgentID)
	assert.Equal(t, float64(900), cfg.Voice.VADThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.Grace)
}

func TestLoadWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadSettings(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettingsConfig().BaseURL, cfg.BaseURL)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	_, err := LoadSettings(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SettingsConfig)
		want   string
	}{
		{"scheme", func(c *SettingsConfig) { c.BaseURL = "ftp://grid" }, "base_url"},
		{"no host", func(c *SettingsConfig) { c.BaseURL = "http://" }, "base_url"},
		{"buffer", func(c *SettingsConfig) { c.Chat.EventBufferSize = 0 }, "event_buffer"},
		{"grace", func(c *SettingsConfig) { c.Chat.Grace = -time.Second }, "grace"},
		{"vad", func(c *SettingsConfig) { c.Voice.VADThreshold = -1 }, "vad_threshold"},
		{"output", func(c *SettingsConfig) { c.Voice.Output = "speakers" }, "voice.output"},
		{"store path", func(c *SettingsConfig) { c.Store.Path = "" }, "store.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSettingsConfig()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestStoreBuild(t *testing.T) {
	ctx := context.Background()
	logger := core.NewNopLogger()

	mem, err := StoreConfig{}.Build(ctx, logger)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, "k", "v"))
	require.NoError(t, mem.Close())

	path := filepath.Join(t.TempDir(), "state", "gridlink.db")
	st, err := StoreConfig{Persist: true, Path: path}.Build(ctx, logger)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "k", "v"))
	require.NoError(t, st.Close())
	assert.FileExists(t, path)
}

func TestTokenSourcePrefersFile(t *testing.T) {
	path := writeFile(t, "token", "from-file\n")
	cfg := DefaultSettingsConfig()
	cfg.Token = "inline"
	assert.Equal(t, "inline", cfg.TokenSource(core.NewNopLogger()).Token())

	cfg.TokenFile = path
	assert.Equal(t, "from-file", cfg.TokenSource(core.NewNopLogger()).Token())
}

func TestBuildAPIClient(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.BaseURL = "https://grid.example.com"
	client, err := cfg.BuildAPIClient(core.NewNopLogger())
	require.NoError(t, err)
	assert.False(t, client.HasToken())
	assert.Equal(t, "wss://grid.example.com/ws/voice?thread_id=t-1", client.VoiceURL("t-1"))
}

func TestBuildAPIClientWarnsWithoutToken(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultSettingsConfig()
	_, err := cfg.BuildAPIClient(core.NewWriterLogger(&buf))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no bearer token")

	buf.Reset()
	cfg.Chat.Public = true
	_, err = cfg.BuildAPIClient(core.NewWriterLogger(&buf))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "no bearer token")

	buf.Reset()
	cfg.Chat.Public = false
	cfg.Token = "tok"
	_, err = cfg.BuildAPIClient(core.NewWriterLogger(&buf))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "no bearer token")
}

func TestMicrophoneSelection(t *testing.T) {
	assert.IsType(t, media.FFmpegMicrophone{}, VoiceConfig{MicDevice: "hw:1"}.Microphone())
	mic := VoiceConfig{MicFile: "prompt.wav", MicLoop: true}.Microphone()
	require.IsType(t, media.FileMicrophone{}, mic)
	assert.True(t, mic.(media.FileMicrophone).Loop)
}

func TestBuildSessionWithDiscardOutput(t *testing.T) {
	sess, err := VoiceConfig{Output: OutputDiscard, MicFile: "prompt.wav"}.BuildSession("ws://localhost/ws/voice?thread_id=t", core.NewNopLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, "idle", string(sess.State().Status))

	_, err = VoiceConfig{Output: "speakers"}.ContextFactory(core.NewNopLogger())
	assert.Error(t, err)
}
