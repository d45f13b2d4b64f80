package media

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
)

type fakeSource struct {
	at      float64
	samples []float32
	onEnded func()
	stops   int
}

func (s *fakeSource) Stop() error {
	s.stops++
	return nil
}

type fakeContext struct {
	mu        sync.Mutex
	now       float64
	scheduled []*fakeSource
	closed    int
}

func (f *fakeContext) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeContext) Schedule(samples []float32, sampleRate int, at float64, onEnded func()) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := &fakeSource{at: at, samples: samples, onEnded: onEnded}
	f.scheduled = append(f.scheduled, src)
	return src, nil
}

func (f *fakeContext) Close() error {
	f.closed++
	return nil
}

func (f *fakeContext) advance(d float64) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

func newTestPlayer(t *testing.T) (*Player, *fakeContext) {
	t.Helper()
	fc := &fakeContext{}
	p := NewPlayer(16000, func(int) (AudioContext, error) { return fc, nil }, core.NewNopLogger())
	return p, fc
}

func TestPlayerGaplessScheduling(t *testing.T) {
	p, fc := newTestPlayer(t)
	fc.now = 1.0

	sizes := []int{1600, 3200, 800, 4096}
	for _, n := range sizes {
		require.NoError(t, p.PlayChunk(make([]int16, n)))
	}

	require.Len(t, fc.scheduled, len(sizes))
	assert.Equal(t, 1.0, fc.scheduled[0].at)
	for k := 1; k < len(sizes); k++ {
		prev := fc.scheduled[k-1]
		prevEnd := prev.at + float64(len(prev.samples))/16000
		assert.InDelta(t, prevEnd, fc.scheduled[k].at, 1e-9, "chunk %d", k)
	}
	assert.Equal(t, len(sizes), p.Pending())
}

func TestPlayerUnderrunSnapsToNow(t *testing.T) {
	p, fc := newTestPlayer(t)
	require.NoError(t, p.PlayChunk(make([]int16, 1600)))
	fc.advance(5)
	require.NoError(t, p.PlayChunk(make([]int16, 1600)))

	assert.Equal(t, 5.0, fc.scheduled[1].at)
	assert.InDelta(t, 5.1, p.Cursor(), 1e-9)
}

func TestPlayerConvertsSamples(t *testing.T) {
	p, fc := newTestPlayer(t)
	require.NoError(t, p.PlayChunk([]int16{16384, -32768}))
	assert.Equal(t, []float32{0.5, -1}, fc.scheduled[0].samples)
}

func TestPlayerClearBufferIdempotent(t *testing.T) {
	p, fc := newTestPlayer(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.PlayChunk(make([]int16, 1600)))
	}
	fc.advance(0.05)

	p.ClearBuffer()
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 0.05, p.Cursor())
	for _, src := range fc.scheduled {
		assert.Equal(t, 1, src.stops)
	}

	assert.NotPanics(t, p.ClearBuffer)
	assert.Equal(t, 0, p.Pending())

	// End callbacks for cleared sources are no-ops.
	for _, src := range fc.scheduled {
		src.onEnded()
	}
	assert.Equal(t, 0, p.Pending())
}

func TestPlayerClearAfterNaturalEnd(t *testing.T) {
	p, fc := newTestPlayer(t)
	drained := 0
	p.OnDrained = func() { drained++ }

	require.NoError(t, p.PlayChunk(make([]int16, 160)))
	require.NoError(t, p.PlayChunk(make([]int16, 160)))
	fc.scheduled[0].onEnded()
	assert.Equal(t, 1, p.Pending())
	assert.Equal(t, 0, drained)
	fc.scheduled[1].onEnded()
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 1, drained)

	assert.NotPanics(t, p.ClearBuffer)
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 1, drained)
}

func TestPlayerStop(t *testing.T) {
	p, fc := newTestPlayer(t)
	p.Stop() // before any context exists
	assert.Equal(t, 0, fc.closed)

	p2, fc2 := newTestPlayer(t)
	require.NoError(t, p2.PlayChunk(make([]int16, 160)))
	p2.Stop()
	p2.Stop()
	assert.Equal(t, 1, fc2.closed)
	assert.Equal(t, 1, fc2.scheduled[0].stops)
	assert.ErrorIs(t, p2.PlayChunk(make([]int16, 160)), ErrContextClosed)
}

func TestPlayerContextError(t *testing.T) {
	boom := errors.New("no device")
	p := NewPlayer(16000, func(int) (AudioContext, error) { return nil, boom }, core.NewNopLogger())
	assert.ErrorIs(t, p.PlayChunk([]int16{1}), boom)
	assert.NoError(t, p.PlayChunk(nil))
}
