package core

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLogWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, "user-thread-1", "default")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "user-thread-1.active"))

	base, recs := captureLogger()
	logger := NewSessionLogger(base, w).Component("chat")
	logger.Warn("history failed", "error", errors.New("boom"))
	w.Close()
	w.Close()

	assert.Len(t, *recs, 1)
	assert.NoFileExists(t, filepath.Join(dir, "user-thread-1.active"))

	f, err := os.Open(filepath.Join(dir, "user-thread-1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var meta SessionMetadata
	require.NoError(t, json.Unmarshal(sc.Bytes(), &meta))
	assert.Equal(t, "user-thread-1", meta.ThreadID)
	assert.Equal(t, "default", meta.Scope)

	require.True(t, sc.Scan())
	var entry LogEntry
	require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "history failed", entry.Message)
	assert.Equal(t, "boom", entry.Attrs["error"])
	assert.Equal(t, "chat", entry.Attrs["component"])
	assert.False(t, sc.Scan())
}

func TestSessionLogWriterAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w, err := NewSessionLogWriter(dir, "t", "")
		require.NoError(t, err)
		w.Write("INFO", "x", nil)
		w.Close()
	}
	data, err := os.ReadFile(filepath.Join(dir, "t.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 4, lines)
}
