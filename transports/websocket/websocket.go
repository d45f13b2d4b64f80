package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridlink/core"
)

const (
	writeTimeout     = 10 * time.Second
	closeGracePeriod = time.Second
)

// Close codes the voice client distinguishes.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseNoStatus = websocket.CloseNoStatusReceived
	CloseAbnormal = websocket.CloseAbnormalClosure
	CloseInternal = websocket.CloseInternalServerErr
)

// IsNormalClose reports whether a close code ends a call cleanly.
func IsNormalClose(code int) bool {
	return code == CloseNormal || code == CloseNoStatus
}

// State mirrors the browser WebSocket readyState.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Frame is one inbound message.
type Frame struct {
	Binary bool
	Data   []byte
}

// CloseEvent describes how the connection ended.
type CloseEvent struct {
	Code   int
	Reason string
	// Err is the read error that ended the connection, nil when the close
	// handshake completed.
	Err error
}

// Client is a duplex WebSocket connection with serialized writes and a
// single reader goroutine.
type Client struct {
	conn   *websocket.Conn
	logger *core.Logger

	mu    sync.Mutex // protects writes and state
	state State

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a connection. The context bounds the handshake only.
func Dial(ctx context.Context, url string, header http.Header, logger *core.Logger) (*Client, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket: dial %q: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket: dial %q: %w", url, err)
	}
	return &Client{
		conn:   conn,
		logger: logger.Component("websocket"),
		state:  StateOpen,
		done:   make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendBinary writes one binary frame.
func (c *Client) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// SendText writes one text frame.
func (c *Client) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// StartReceiving reads frames on a new goroutine until the connection ends,
// then calls onClose exactly once.
func (c *Client) StartReceiving(onFrame func(Frame), onClose func(CloseEvent)) {
	go func() {
		ev := c.readLoop(onFrame)
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.conn.Close()
		close(c.done)
		if onClose != nil {
			onClose(ev)
		}
	}()
}

func (c *Client) readLoop(onFrame func(Frame)) CloseEvent {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return CloseEvent{Code: ce.Code, Reason: ce.Text}
			}
			return CloseEvent{Code: CloseAbnormal, Err: err}
		}
		switch messageType {
		case websocket.BinaryMessage:
			onFrame(Frame{Binary: true, Data: data})
		case websocket.TextMessage:
			onFrame(Frame{Data: data})
		}
	}
}

// Done is closed once the reader goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close starts the close handshake with code 1000. Calling it while the
// connection is closing or closed does nothing.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state != StateOpen {
			c.mu.Unlock()
			return
		}
		c.state = StateClosing
		msg := websocket.FormatCloseMessage(CloseNormal, "")
		err = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		c.mu.Unlock()

		if err != nil {
			c.logger.Debug("close handshake failed", "error", err)
			err = c.conn.Close()
			return
		}
		// Give the peer a moment to echo the close frame, then drop the socket.
		go func() {
			select {
			case <-c.done:
			case <-time.After(closeGracePeriod):
				c.conn.Close()
			}
		}()
	})
	return err
}
