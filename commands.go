package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gridlink/activity"
	"gridlink/core"
	"gridlink/factories"
	"gridlink/voice"
)

// runWithDebug runs work, alongside the debug server when one is configured.
// The server stops when work returns.
func runWithDebug(ctx context.Context, a *app, state stateFunc, work func(ctx context.Context) error) error {
	if a.settings.DebugAddr == "" {
		return work(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveDebug(gctx, a.settings.DebugAddr, newDebugRouter(state, a.logger), a.logger)
	})
	g.Go(func() error {
		defer cancel()
		return work(gctx)
	})
	return g.Wait()
}

func newChatCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with live agent activity; /help lists commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := newConsole(cmd.OutOrStdout())
			s, err := newSession(ctx, a, out)
			if err != nil {
				return err
			}
			defer s.Close()

			return runWithDebug(ctx, a, s.state, func(ctx context.Context) error {
				s.ctl.SetOpen(ctx, true)
				return repl(ctx, s, cmd.InOrStdin())
			})
		},
	}
	addVoiceFlags(cmd)
	return cmd
}

const replHelp = `commands:
  /reset      start a new thread
  /finish     archive the conversation and start a new thread
  /history    reload and print the thread history
  /activity   show the agent activity view
  /call       start a voice call on this thread
  /mute       stop sending microphone audio
  /unmute     resume sending microphone audio
  /hangup     end the voice call
  /status     show thread and call state
  /quit       exit
anything else is sent as a chat message
`

// repl reads lines from in until EOF, /quit or ctx is done.
func repl(ctx context.Context, s *session, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.dispatch(ctx, strings.TrimSpace(line))
			if err != nil {
				s.out.Printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// dispatch runs one REPL line and reports whether the REPL should exit.
func (s *session) dispatch(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		s.ctl.SetInput(line)
		return false, s.ctl.HandleSend(ctx, "")
	}

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.out.Printf("%s", replHelp)
	case "/reset":
		return false, s.ctl.Reset(ctx)
	case "/finish":
		return false, s.ctl.FinishConversation(ctx)
	case "/history":
		s.out.Forget()
		s.ctl.LoadHistory(ctx)
		s.out.Messages(s.ctl.Snapshot().Messages)
	case "/activity":
		s.out.Activity(s.ctl.Activity(time.Now(), activity.FullFeedLimit))
	case "/call":
		_, err := s.StartCall(ctx)
		return false, err
	case "/mute", "/unmute":
		if !s.SetMuted(line == "/mute") {
			return false, errors.New("no call is connected")
		}
		s.out.Printf("[voice] %s\n", strings.TrimPrefix(line, "/"))
	case "/hangup":
		s.HangUp()
	case "/status":
		s.printStatus()
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", line)
	}
	return false, nil
}

func (s *session) printStatus() {
	snap := s.ctl.Snapshot()
	s.out.Printf("thread %s (%s), %d messages, %d events\n", snap.ThreadID, s.ctl.Scope(), len(snap.Messages), len(snap.Events))
	if call := s.Voice(); call != nil {
		st := call.State()
		s.out.Printf("call %s, muted=%t user_speaking=%t agent_speaking=%t\n", st.Status, st.Muted, st.UserSpeaking, st.AgentSpeaking)
	}
}

func newCallCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Voice call on the current thread, with transcripts printed as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := newConsole(cmd.OutOrStdout())
			s, err := newSession(ctx, a, out)
			if err != nil {
				return err
			}
			defer s.Close()

			return runWithDebug(ctx, a, s.state, func(ctx context.Context) error {
				call, err := s.StartCall(ctx)
				if err != nil {
					return err
				}
				select {
				case <-call.Done():
				case <-ctx.Done():
					call.Close()
				}
				if call.State().Status == voice.StatusError {
					return errors.New("call ended with an error")
				}
				return nil
			})
		},
	}
	addVoiceFlags(cmd)
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history [thread-id]",
		Short: "Print the stored history of a thread (default: the current thread)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			tid := ""
			if len(args) == 1 {
				tid = args[0]
			} else {
				id, ok, err := a.store.LookupThreadID(ctx, a.scope())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no thread stored for scope %s", a.scope())
				}
				tid = id
			}

			history, err := a.client.History(ctx, tid)
			if err != nil {
				return err
			}
			out := newConsole(cmd.OutOrStdout())
			out.Printf("thread %s: %d messages\n", tid, len(history))
			msgs := make([]core.Message, len(history))
			for i, h := range history {
				msgs[i] = core.Message{ID: fmt.Sprintf("%s%d", core.HistoryPrefix, i), Sender: h.Sender, Text: h.Text}
			}
			out.Messages(msgs)
			return nil
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ticket statistics, falling back to the last cached copy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := factories.BuildStatsService(a.client, a.store, a.logger).Refresh(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Cached {
				fmt.Fprintln(w, "(backend unreachable, showing cached stats)")
			}
			st := res.Stats
			fmt.Fprintf(w, "system:     %s\n", st.SystemStatus)
			fmt.Fprintf(w, "active:     %d\n", st.ActiveCount)
			fmt.Fprintf(w, "resolved:   %d\n", st.ResolvedCount)
			fmt.Fprintf(w, "total:      %d\n", st.TotalCount)
			fmt.Fprintf(w, "efficiency: %s\n", st.Efficiency)
			return nil
		},
	}
}
