package factories

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gridlink/activity"
	"gridlink/chat"
	"gridlink/voice"
)

// EnvPrefix is prepended to every environment override, so chat.agent_id is
// read from GRIDLINK_CHAT_AGENT_ID.
const EnvPrefix = "GRIDLINK"

// Playback outputs understood by VoiceConfig.
const (
	OutputFFplay  = "ffplay"
	OutputDiscard = "discard"
)

// ChatConfig selects the chat scope and tunes the chat controller.
type ChatConfig struct {
	// AgentID routes chat to /chat/agent and scopes the thread to that agent.
	AgentID    string `mapstructure:"agent_id" json:"agent_id,omitempty"`
	WorkflowID string `mapstructure:"workflow_id" json:"workflow_id,omitempty"`
	// Public sessions never send the bearer token.
	Public          bool          `mapstructure:"public" json:"public"`
	WelcomeMessage  string        `mapstructure:"welcome_message" json:"welcome_message,omitempty"`
	EventBufferSize int           `mapstructure:"event_buffer" json:"event_buffer,omitempty"`
	Grace           time.Duration `mapstructure:"grace" json:"grace,omitempty"`
}

// VoiceConfig selects the audio devices for calls.
type VoiceConfig struct {
	VADThreshold float64 `mapstructure:"vad_threshold" json:"vad_threshold,omitempty"`
	// MicDevice overrides the ffmpeg input device.
	MicDevice string `mapstructure:"mic_device" json:"mic_device,omitempty"`
	// MicFile replaces the live microphone with an audio file.
	MicFile string `mapstructure:"mic_file" json:"mic_file,omitempty"`
	MicLoop bool   `mapstructure:"mic_loop" json:"mic_loop"`
	// Output is "ffplay" or "discard".
	Output string `mapstructure:"output" json:"output,omitempty"`
}

// StoreConfig controls where thread ids and cached stats live.
type StoreConfig struct {
	// Persist keeps state in a sqlite file at Path; otherwise state lives in
	// memory for the lifetime of the process.
	Persist bool   `mapstructure:"persist" json:"persist"`
	Path    string `mapstructure:"path" json:"path,omitempty"`
}

// LogConfig configures the process logger and per-thread log files.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty"`
	// Dir, when set, receives one JSONL log file per thread.
	Dir string `mapstructure:"dir" json:"dir,omitempty"`
}

// SettingsConfig is the top-level configuration, read from gridlink.yaml (or
// .json), GRIDLINK_* environment variables and command-line flags.
type SettingsConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// Token is the bearer token. TokenFile wins when both are set and is
	// re-read on every request.
	Token     string `mapstructure:"token" json:"token,omitempty"`
	TokenFile string `mapstructure:"token_file" json:"token_file,omitempty"`
	// DebugAddr, when set, serves /metrics and /state.
	DebugAddr string      `mapstructure:"debug_addr" json:"debug_addr,omitempty"`
	Chat      ChatConfig  `mapstructure:"chat" json:"chat"`
	Voice     VoiceConfig `mapstructure:"voice" json:"voice"`
	Store     StoreConfig `mapstructure:"store" json:"store"`
	Log       LogConfig   `mapstructure:"log" json:"log"`
}

// DefaultSettingsConfig returns the settings used when nothing overrides them.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		BaseURL: "http://localhost:8000",
		Chat: ChatConfig{
			WelcomeMessage:  chat.DefaultWelcomeMessage,
			EventBufferSize: chat.DefaultEventBufferSize,
			Grace:           activity.DefaultGrace,
		},
		Voice: VoiceConfig{
			VADThreshold: voice.DefaultVADThreshold,
			Output:       OutputFFplay,
		},
		Store: StoreConfig{
			Persist: true,
			Path:    "gridlink.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers every key with v. Environment overrides only apply to
// keys viper knows about, so this must run before Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettingsConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("token_file", d.TokenFile)
	v.SetDefault("debug_addr", d.DebugAddr)

	v.SetDefault("chat.agent_id", d.Chat.AgentID)
	v.SetDefault("chat.workflow_id", d.Chat.WorkflowID)
	v.SetDefault("chat.public", d.Chat.Public)
	v.SetDefault("chat.welcome_message", d.Chat.WelcomeMessage)
	v.SetDefault("chat.event_buffer", d.Chat.EventBufferSize)
	v.SetDefault("chat.grace", d.Chat.Grace)

	v.SetDefault("voice.vad_threshold", d.Voice.VADThreshold)
	v.SetDefault("voice.mic_device", d.Voice.MicDevice)
	v.SetDefault("voice.mic_file", d.Voice.MicFile)
	v.SetDefault("voice.mic_loop", d.Voice.MicLoop)
	v.SetDefault("voice.output", d.Voice.Output)

	v.SetDefault("store.persist", d.Store.Persist)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.dir", d.Log.Dir)
}

// NewViper returns a viper instance with defaults and GRIDLINK_* environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the config file at path into v and decodes the merged
// result. With an empty path it looks for gridlink.{yaml,json} in the working
// directory and carries on without one.
func LoadSettings(v *viper.Viper, path string) (SettingsConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gridlink")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return SettingsConfig{}, fmt.Errorf("settings: read config: %w", err)
		}
	}
	return decodeSettings(v)
}

// SettingsConfigFromJSON parses a JSON blob layered over the defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	return decodeSettings(v)
}

// SettingsConfigFromFile reads settings from a YAML or JSON file, without
// environment overrides.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadSettings(v, path)
}

func decodeSettings(v *viper.Viper) (SettingsConfig, error) {
	var cfg SettingsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: decode: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if err := cfg.Validate(); err != nil {
		return SettingsConfig{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c SettingsConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("settings: base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	if c.Chat.EventBufferSize < 1 {
		return fmt.Errorf("settings: chat.event_buffer must be at least 1, got %d", c.Chat.EventBufferSize)
	}
	if c.Chat.Grace < 0 {
		return fmt.Errorf("settings: chat.grace must not be negative, got %s", c.Chat.Grace)
	}
	if c.Voice.VADThreshold < 0 {
		return fmt.Errorf("settings: voice.vad_threshold must not be negative, got %v", c.Voice.VADThreshold)
	}
	switch c.Voice.Output {
	case OutputFFplay, OutputDiscard:
	default:
		return fmt.Errorf("settings: voice.output must be %q or %q, got %q", OutputFFplay, OutputDiscard, c.Voice.Output)
	}
	if c.Store.Persist && c.Store.Path == "" {
		return errors.New("settings: store.path is required when store.persist is set")
	}
	return nil
}
