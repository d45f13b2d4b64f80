package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"gridlink/core"
	"gridlink/utils/audio"
)

// BlockSize is the number of samples handed to the capture callback per call.
const BlockSize = 4096

// Capturer reads fixed size blocks from a Microphone, converts them to
// clamped 16-bit PCM and hands each block to a callback as it arrives.
type Capturer struct {
	mic    Microphone
	onData func([]int16)
	logger *core.Logger

	mu     sync.Mutex
	stream InputStream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapturer creates a Capturer. A nil logger uses the global logger.
func NewCapturer(mic Microphone, onData func([]int16), logger *core.Logger) *Capturer {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Capturer{
		mic:    mic,
		onData: onData,
		logger: logger.Component("capturer"),
	}
}

// Start opens the microphone and begins delivering blocks. Permission
// failures wrap ErrPermissionDenied.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return errors.New("capturer: already started")
	}

	stream, err := c.mic.Open(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) && !errors.Is(err, ErrPermissionDenied) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("capturer: open microphone: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.process(runCtx, stream, c.done)

	c.logger.Debug("capture started")
	return nil
}

func (c *Capturer) process(ctx context.Context, stream InputStream, done chan struct{}) {
	defer close(done)

	block := make([]float32, BlockSize)
	filled := 0
	for {
		n, err := stream.Read(block[filled:])
		filled += n
		if filled == BlockSize {
			if ctx.Err() != nil {
				return
			}
			c.onData(audio.FloatToPCM16(nil, block))
			filled = 0
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("capture stream ended", "error", err)
			}
			return
		}
	}
}

// Stop halts block delivery, closes the input stream and waits for the
// processing goroutine. Idempotent and safe if Start was never called. Must
// not be called from the data callback.
func (c *Capturer) Stop() {
	c.mu.Lock()
	stream, cancel, done := c.stream, c.cancel, c.done
	c.stream, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if stream == nil {
		return
	}
	cancel()
	if err := stream.Close(); err != nil {
		c.logger.Debug("close capture stream", "error", err)
	}
	<-done
	c.logger.Debug("capture stopped")
}
