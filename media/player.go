package media

import (
	"fmt"
	"sync"

	"gridlink/core"
	"gridlink/metrics"
	"gridlink/utils/audio"
)

// Player schedules PCM chunks back to back on an AudioContext. The context
// is opened lazily on the first chunk.
type Player struct {
	sampleRate int
	newContext ContextFactory
	logger     *core.Logger

	// OnDrained fires when the last scheduled source ends on its own. It
	// does not fire for sources removed by ClearBuffer.
	OnDrained func()

	mu        sync.Mutex
	ctx       AudioContext
	startTime float64
	nextID    uint64
	sources   map[uint64]Source
	stopped   bool
}

// NewPlayer creates a Player. A nil logger uses the global logger.
func NewPlayer(sampleRate int, newContext ContextFactory, logger *core.Logger) *Player {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Player{
		sampleRate: sampleRate,
		newContext: newContext,
		logger:     logger.Component("player"),
		sources:    make(map[uint64]Source),
	}
}

// PlayChunk schedules samples immediately after the previously scheduled
// chunk. If the cursor is behind the clock it snaps forward to now.
func (p *Player) PlayChunk(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrContextClosed
	}
	if p.ctx == nil {
		ctx, err := p.newContext(p.sampleRate)
		if err != nil {
			return fmt.Errorf("player: open audio context: %w", err)
		}
		p.ctx = ctx
		p.startTime = ctx.CurrentTime()
	}

	now := p.ctx.CurrentTime()
	if p.startTime < now {
		if p.startTime != 0 {
			p.logger.Debug("playback underrun, catching up", "gap_seconds", now-p.startTime)
			metrics.PlaybackUnderrunsTotal.Inc()
		}
		p.startTime = now
	}

	id := p.nextID
	p.nextID++
	src, err := p.ctx.Schedule(audio.PCM16ToFloat(nil, samples), p.sampleRate, p.startTime, func() { p.ended(id) })
	if err != nil {
		return fmt.Errorf("player: schedule: %w", err)
	}
	p.sources[id] = src
	p.startTime += float64(len(samples)) / float64(p.sampleRate)
	return nil
}

func (p *Player) ended(id uint64) {
	p.mu.Lock()
	if _, ok := p.sources[id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sources, id)
	drained := len(p.sources) == 0
	onDrained := p.OnDrained
	p.mu.Unlock()

	if drained && onDrained != nil {
		onDrained()
	}
}

// ClearBuffer stops every scheduled source and resets the cursor to now.
// Safe to call at any time, including repeatedly.
func (p *Player) ClearBuffer() {
	p.mu.Lock()
	pending := p.sources
	p.sources = make(map[uint64]Source)
	if p.ctx != nil {
		p.startTime = p.ctx.CurrentTime()
	}
	p.mu.Unlock()

	for _, src := range pending {
		// The source may have finished already.
		_ = src.Stop()
	}
}

// Stop clears the buffer and closes the audio context. Idempotent.
func (p *Player) Stop() {
	p.ClearBuffer()

	p.mu.Lock()
	ctx := p.ctx
	p.ctx = nil
	p.stopped = true
	p.mu.Unlock()

	if ctx != nil {
		if err := ctx.Close(); err != nil {
			p.logger.Warn("close audio context", "error", err)
		}
	}
}

// Pending reports how many sources are scheduled and not yet ended.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// Cursor is the clock time at which the next chunk would start.
func (p *Player) Cursor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startTime
}
