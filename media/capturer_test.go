package media

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
	"gridlink/utils/audio"
)

// chunkStream returns its samples in uneven reads, then blocks until closed.
type chunkStream struct {
	samples []float32
	pos     int
	closed  chan struct{}
	once    sync.Once
	closes  int
}

func (s *chunkStream) Read(p []float32) (int, error) {
	if s.pos >= len(s.samples) {
		<-s.closed
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), 1000)], s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *chunkStream) Close() error {
	s.closes++
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeMic struct {
	stream InputStream
	err    error
}

func (m fakeMic) Open(context.Context) (InputStream, error) {
	return m.stream, m.err
}

func TestCapturerDeliversWholeBlocks(t *testing.T) {
	samples := make([]float32, BlockSize*2+10)
	for i := range samples {
		samples[i] = 2 // clamped to 32767
	}
	stream := &chunkStream{samples: samples, closed: make(chan struct{})}

	blocks := make(chan []int16, 4)
	c := NewCapturer(fakeMic{stream: stream}, func(b []int16) { blocks <- b }, core.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case b := <-blocks:
			require.Len(t, b, BlockSize)
			assert.Equal(t, int16(32767), b[0])
			assert.Equal(t, int16(32767), b[BlockSize-1])
		case <-time.After(time.Second):
			t.Fatal("block not delivered")
		}
	}

	c.Stop()
	c.Stop()
	assert.Equal(t, 1, stream.closes)
	assert.Empty(t, blocks, "partial block is not delivered")
}

func TestCapturerBlocksAreIndependent(t *testing.T) {
	samples := make([]float32, BlockSize*2)
	samples[0] = 0.5
	stream := &chunkStream{samples: samples, closed: make(chan struct{})}

	var mu sync.Mutex
	var got [][]int16
	done := make(chan struct{})
	c := NewCapturer(fakeMic{stream: stream}, func(b []int16) {
		mu.Lock()
		got = append(got, b)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	}, core.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	<-done
	c.Stop()

	assert.Equal(t, int16(16383), got[0][0])
	assert.Equal(t, int16(0), got[1][0])
}

func TestCapturerPermissionDenied(t *testing.T) {
	c := NewCapturer(fakeMic{err: &fs.PathError{Op: "open", Path: "/dev/snd", Err: fs.ErrPermission}}, func([]int16) {}, core.NewNopLogger())
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotPanics(t, c.Stop)

	c2 := NewCapturer(fakeMic{err: errors.New("busy")}, func([]int16) {}, core.NewNopLogger())
	err = c2.Start(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestCapturerStopWithoutStart(t *testing.T) {
	c := NewCapturer(fakeMic{}, func([]int16) {}, core.NewNopLogger())
	assert.NotPanics(t, c.Stop)
}

func TestFileMicrophone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.raw")
	in := make([]int16, BlockSize+100)
	for i := range in {
		in[i] = 8000
	}
	require.NoError(t, os.WriteFile(path, audio.PCM16ToBytes(in), 0o644))

	blocks := make(chan []int16, 4)
	c := NewCapturer(FileMicrophone{Path: path, Unpaced: true}, func(b []int16) { blocks <- b }, core.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))

	select {
	case b := <-blocks:
		assert.InDelta(t, 8000, audio.MeanAbsAmplitude(b), 1)
	case <-time.After(time.Second):
		t.Fatal("no block from file microphone")
	}
	c.Stop()

	_, err := FileMicrophone{Path: filepath.Join(t.TempDir(), "missing.wav")}.Open(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileMicrophonePaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.raw")
	require.NoError(t, os.WriteFile(path, audio.PCM16ToBytes([]int16{100, 100}), 0o644))

	stream, err := FileMicrophone{Path: path}.Open(context.Background())
	require.NoError(t, err)

	buf := make([]float32, 160) // 10ms
	start := time.Now()
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 160, n)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, float32(0), buf[2], "trailing silence after file end")

	require.NoError(t, stream.Close())
	_, err = stream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
