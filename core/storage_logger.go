package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionMetadata is the first JSON line in each thread log file.
type SessionMetadata struct {
	ThreadID  string `json:"thread_id"`
	Scope     string `json:"scope,omitempty"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// LogWriter abstracts the destination for session log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]interface{})
	Close()
}

// SessionLogWriter appends structured log lines to <dir>/<thread>.jsonl.
// Reopening an existing thread appends a new metadata line instead of
// truncating.
type SessionLogWriter struct {
	mu       sync.Mutex
	file     *os.File
	logDir   string
	threadID string
}

// NewSessionLogWriter creates the log directory and the thread log file,
// writes the metadata line, and creates an .active marker file.
func NewSessionLogWriter(logDir, threadID, scope string) (*SessionLogWriter, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("session log: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, threadID+".jsonl")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session log: open %q: %w", filePath, err)
	}

	meta := SessionMetadata{
		ThreadID:  threadID,
		Scope:     scope,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(meta)
	f.Write(append(data, '\n'))

	activePath := filepath.Join(logDir, threadID+".active")
	if af, err := os.Create(activePath); err == nil {
		af.Close()
	}

	return &SessionLogWriter{
		file:     f,
		logDir:   logDir,
		threadID: threadID,
	}, nil
}

// Write appends a structured log line. Attribute values that cannot be
// encoded are stringified.
func (w *SessionLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     encodableAttrs(attrs),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(data, '\n'))
	}
}

// Close closes the log file and removes the .active marker. Safe to call twice.
func (w *SessionLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return
	}
	w.file.Close()
	w.file = nil
	os.Remove(filepath.Join(w.logDir, w.threadID+".active"))
}

func encodableAttrs(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case error:
			out[k] = t.Error()
		case fmt.Stringer:
			out[k] = t.String()
		default:
			out[k] = v
		}
	}
	return out
}

// NewSessionLogger creates a Logger that tees output to both the base logger
// and the provided LogWriter. Child loggers created via With() inherit this.
func NewSessionLogger(baseLogger *Logger, writer LogWriter) *Logger {
	handler := func(level string, msg string, attrs map[string]interface{}) {
		if baseLogger.handlerFunc != nil {
			baseLogger.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}

	l := NewLogger(handler)
	l.syncFunc = baseLogger.syncFunc
	for k, v := range baseLogger.attrs {
		l.attrs[k] = v
	}
	return l
}
