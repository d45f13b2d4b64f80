package media

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"gridlink/core"
	"gridlink/utils/audio"
)

const defaultFrameDuration = 20 * time.Millisecond

// StreamContext is an AudioContext that mixes scheduled sources into a
// continuous s16le stream written to an io.Writer, one frame per tick. The
// clock is the number of samples rendered so far.
type StreamContext struct {
	sampleRate int
	frameSize  int
	logger     *core.Logger

	closer io.Closer

	mu       sync.Mutex
	out      io.Writer
	rendered int64
	sources  []*streamSource
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type streamSource struct {
	ctx     *StreamContext
	start   int64
	samples []float32
	onEnded func()
	stopped bool
}

// NewStreamContext starts a real-time renderer writing to out. If out is an
// io.Closer it is closed with the context.
func NewStreamContext(out io.Writer, sampleRate int, logger *core.Logger) *StreamContext {
	c := newStreamContext(out, sampleRate, logger)
	c.wg.Add(1)
	go c.run(defaultFrameDuration)
	return c
}

func newStreamContext(out io.Writer, sampleRate int, logger *core.Logger) *StreamContext {
	if logger == nil {
		logger = core.GetLogger()
	}
	closer, _ := out.(io.Closer)
	return &StreamContext{
		closer:     closer,
		sampleRate: sampleRate,
		frameSize:  int(int64(sampleRate) * int64(defaultFrameDuration) / int64(time.Second)),
		logger:     logger.Component("audio_output"),
		out:        out,
		stop:       make(chan struct{}),
	}
}

// StreamContextFactory returns a ContextFactory that opens a fresh writer
// per context.
func StreamContextFactory(open func(sampleRate int) (io.Writer, error), logger *core.Logger) ContextFactory {
	return func(sampleRate int) (AudioContext, error) {
		w, err := open(sampleRate)
		if err != nil {
			return nil, err
		}
		return NewStreamContext(w, sampleRate, logger), nil
	}
}

func (c *StreamContext) run(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.renderFrame()
		}
	}
}

func (c *StreamContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.rendered) / float64(c.sampleRate)
}

func (c *StreamContext) Schedule(samples []float32, sampleRate int, at float64, onEnded func()) (Source, error) {
	if sampleRate != c.sampleRate {
		return nil, fmt.Errorf("stream context: sample rate %d does not match context rate %d", sampleRate, c.sampleRate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	start := int64(math.Round(at * float64(c.sampleRate)))
	if start < c.rendered {
		start = c.rendered
	}
	src := &streamSource{
		ctx:     c,
		start:   start,
		samples: samples,
		onEnded: onEnded,
	}
	c.sources = append(c.sources, src)
	return src, nil
}

func (s *streamSource) Stop() error {
	s.ctx.mu.Lock()
	s.stopped = true
	s.ctx.mu.Unlock()
	return nil
}

// renderFrame mixes one frame, writes it, and fires onEnded for sources that
// finished or were stopped.
func (c *StreamContext) renderFrame() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	from := c.rendered
	to := from + int64(c.frameSize)
	mix := make([]float32, c.frameSize)

	var ended []func()
	live := c.sources[:0]
	for _, src := range c.sources {
		if !src.stopped {
			srcEnd := src.start + int64(len(src.samples))
			lo, hi := max(from, src.start), min(to, srcEnd)
			for i := lo; i < hi; i++ {
				mix[i-from] += src.samples[i-src.start]
			}
			if srcEnd > to {
				live = append(live, src)
				continue
			}
		}
		if src.onEnded != nil {
			ended = append(ended, src.onEnded)
		}
	}
	for i := len(live); i < len(c.sources); i++ {
		c.sources[i] = nil
	}
	c.sources = live
	c.rendered = to
	out := c.out
	c.mu.Unlock()

	if _, err := out.Write(audio.PCM16ToBytes(audio.FloatToPCM16(nil, mix))); err != nil {
		c.logger.Warn("audio output failed, discarding further output", "error", err)
		c.mu.Lock()
		c.out = io.Discard
		c.mu.Unlock()
	}

	for _, fn := range ended {
		fn()
	}
}

// Close stops the renderer and closes the writer if it is closable.
func (c *StreamContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()

	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
