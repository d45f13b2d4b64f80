package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gridlink/activity"
	"gridlink/core"
)

// console renders controller state to a terminal. Messages are printed once,
// and again only when their text changes.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]string
}

func newConsole(w io.Writer) *console {
	return &console{w: w, printed: make(map[string]string)}
}

// Messages prints every message not yet shown. Typed user turns are skipped
// because the terminal already echoed them.
func (c *console) Messages(msgs []core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if prev, ok := c.printed[m.ID]; ok && prev == m.Text {
			continue
		}
		c.printed[m.ID] = m.Text
		if m.Sender == core.SenderUser && !strings.HasPrefix(m.ID, core.VoiceUserPrefix) && !strings.HasPrefix(m.ID, core.HistoryPrefix) {
			continue
		}
		c.printMessage(m)
	}
}

// Forget drops the printed set so the next Messages call shows everything,
// used after a thread reset.
func (c *console) Forget() {
	c.mu.Lock()
	c.printed = make(map[string]string)
	c.mu.Unlock()
}

func (c *console) printMessage(m core.Message) {
	prefix := "grid>"
	if m.Sender == core.SenderUser {
		prefix = "you> "
		if strings.HasPrefix(m.ID, core.VoiceUserPrefix) {
			prefix = "you (voice)>"
		}
	}
	fmt.Fprintf(c.w, "%s %s\n", prefix, m.Text)
	if len(m.Actions) == 0 {
		return
	}
	labels := make([]string, 0, len(m.Actions))
	for _, a := range m.Actions {
		labels = append(labels, "["+a.Label+"]")
	}
	fmt.Fprintf(c.w, "      %s\n", strings.Join(labels, " "))
}

func (c *console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// Notifier prints notifications as single tagged lines.
func (c *console) Notifier() core.Notifier {
	return func(n core.Notification) {
		c.Printf("[%s] %s\n", n.Level, n.Text)
	}
}

// Activity prints the activity view.
func (c *console) Activity(v activity.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "status: %s (stage %s)\n", v.Status, v.Stage)
	parts := make([]string, 0, len(activity.Stages))
	for _, s := range activity.Stages {
		parts = append(parts, fmt.Sprintf("%s=%s", s, v.Nodes[s]))
	}
	fmt.Fprintf(c.w, "nodes:  %s\n", strings.Join(parts, " "))
	if len(v.Feed) == 0 {
		fmt.Fprintln(c.w, "feed:   (empty)")
		return
	}
	fmt.Fprintln(c.w, "feed:")
	for _, item := range v.Feed {
		ts := time.Unix(0, int64(item.Timestamp*float64(time.Second))).Format("15:04:05")
		fmt.Fprintf(c.w, "  %s %-24s %s\n", ts, item.Title, item.Detail)
	}
}
