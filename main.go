package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gridlink/api"
	"gridlink/core"
	"gridlink/factories"
	"gridlink/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries what the persistent pre-run resolves for every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	settings   factories.SettingsConfig
	logger     *core.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: factories.NewViper()}
	d := factories.DefaultSettingsConfig()

	root := &cobra.Command{
		Use:           "gridlink",
		Short:         "Terminal client for the GRID operations agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default ./gridlink.yaml if present)")
	pf.String("base-url", d.BaseURL, "backend base URL")
	pf.String("token", "", "bearer token")
	pf.String("token-file", "", "file holding the bearer token, re-read per request")
	pf.String("agent", "", "agent id; routes chat to /chat/agent with its own thread")
	pf.String("workflow", "", "workflow id sent with every chat turn")
	pf.Bool("public", false, "public session: no bearer token, public thread")
	pf.String("state", d.Store.Path, "sqlite file for thread ids and cached stats")
	pf.Bool("persist", d.Store.Persist, "persist state to the sqlite file")
	pf.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	pf.String("log-format", d.Log.Format, "log format (console, json)")
	pf.String("log-dir", "", "write one JSONL log per thread into this directory")
	pf.String("debug-addr", "", "serve /metrics and /state on this address")

	bind := map[string]string{
		"base_url":         "base-url",
		"token":            "token",
		"token_file":       "token-file",
		"chat.agent_id":    "agent",
		"chat.workflow_id": "workflow",
		"chat.public":      "public",
		"store.path":       "state",
		"store.persist":    "persist",
		"log.level":        "log-level",
		"log.format":       "log-format",
		"log.dir":          "log-dir",
		"debug_addr":       "debug-addr",
	}
	for key, flag := range bind {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newChatCmd(c),
		newCallCmd(c),
		newHistoryCmd(c),
		newStatsCmd(c),
	)
	return root
}

var voiceFlagKeys = map[string]string{
	"voice.vad_threshold": "vad-threshold",
	"voice.mic_device":    "mic-device",
	"voice.mic_file":      "mic-file",
	"voice.mic_loop":      "mic-loop",
	"voice.output":        "output",
}

// addVoiceFlags registers the audio flags shared by chat and call.
func addVoiceFlags(cmd *cobra.Command) {
	d := factories.DefaultSettingsConfig().Voice
	f := cmd.Flags()
	f.Float64("vad-threshold", d.VADThreshold, "mean absolute amplitude that counts as speech")
	f.String("mic-device", "", "ffmpeg input device")
	f.String("mic-file", "", "stream this audio file instead of the microphone")
	f.Bool("mic-loop", false, "loop --mic-file")
	f.String("output", d.Output, "agent audio output (ffplay, discard)")
}

// load binds the running command's local flags, then resolves settings and
// the logger. Local flags are bound here because several subcommands
// declare the same names.
func (c *cli) load(cmd *cobra.Command) error {
	for key, flag := range voiceFlagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = c.v.BindPFlag(key, f)
		}
	}
	envErr := godotenv.Load(".env.local")

	settings, err := factories.LoadSettings(c.v, c.configPath)
	if err != nil {
		return err
	}
	logger, err := core.NewZapLogger(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	core.SetLogger(*logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.With(map[string]interface{}{"error": envErr}).Warn("failed to load .env.local")
	}
	if used := c.v.ConfigFileUsed(); used != "" {
		logger.With(map[string]interface{}{"config": used}).Debug("settings loaded")
	}
	c.settings = settings
	c.logger = logger
	return nil
}

// app holds the long-lived dependencies shared by every command.
type app struct {
	settings factories.SettingsConfig
	logger   *core.Logger
	store    *store.Store
	client   *api.Client
}

func (c *cli) newApp(ctx context.Context) (*app, error) {
	st, err := c.settings.Store.Build(ctx, c.logger)
	if err != nil {
		return nil, err
	}
	client, err := c.settings.BuildAPIClient(c.logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{settings: c.settings, logger: c.logger, store: st, client: client}, nil
}

func (a *app) scope() store.ThreadScope {
	return store.ThreadScope{Public: a.settings.Chat.Public, AgentID: a.settings.Chat.AgentID}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.With(map[string]interface{}{"error": err}).Warn("closing state store")
	}
}
