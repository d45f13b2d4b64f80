package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"gridlink/core"
	"gridlink/metrics"
	"gridlink/protocol"
)

// ParseError is returned by EventStream.Next for a payload that is not a
// valid AgentEvent. The stream remains usable.
type ParseError struct {
	Data []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("api: malformed agent event: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EventStream is an open GET /chat/stream/{thread_id} connection.
type EventStream struct {
	ThreadID string

	reader *protocol.SSEReader
	cancel context.CancelFunc
	once   sync.Once
}

// OpenStream connects to the agent event stream of threadID. The stream is
// bound to ctx and to Close, whichever ends first.
func (c *Client) OpenStream(ctx context.Context, threadID string) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	path := protocol.PathStream + url.PathEscape(threadID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "open stream", URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := c.statusError("open stream", resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	metrics.SSEConnectionsActive.Inc()
	c.logger.With(map[string]interface{}{"thread_id": threadID}).Debug("event stream opened")
	return &EventStream{
		ThreadID: threadID,
		reader:   protocol.NewSSEReader(resp.Body),
		cancel:   cancel,
	}, nil
}

// Next blocks for the next agent event. It returns io.EOF when the server
// ends the stream, a *ParseError for a malformed payload, and any other
// error when the connection fails or the stream was closed.
func (s *EventStream) Next() (core.AgentEvent, error) {
	ev, err := s.reader.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.AgentEvent{}, io.EOF
		}
		return core.AgentEvent{}, err
	}
	agentEvent, err := protocol.DecodeAgentEvent(ev.Data)
	if err != nil {
		metrics.SSEParseErrorsTotal.Inc()
		return core.AgentEvent{}, &ParseError{Data: ev.Data, Err: err}
	}
	metrics.RecordSSEEvent(string(agentEvent.Type), agentEvent.Type.Known())
	return agentEvent, nil
}

// Close tears down the connection. Safe to call more than once and
// concurrently with Next.
func (s *EventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.reader.Close()
		metrics.SSEConnectionsActive.Dec()
	})
	return nil
}
