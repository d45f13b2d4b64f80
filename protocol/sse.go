package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	Event string
	ID    string
	Data  []byte
}

// SSEReader splits a text/event-stream body into events. Comment lines and
// retry fields are ignored. Multiple data lines are joined with "\n".
type SSEReader struct {
	reader *bufio.Reader
	body   io.Closer
}

func NewSSEReader(body io.ReadCloser) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// Next returns the next event with a non-empty data field. It returns io.EOF
// at the end of the stream or on a "[DONE]" sentinel.
func (s *SSEReader) Next() (SSEEvent, error) {
	var ev SSEEvent
	var data bytes.Buffer
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return SSEEvent{}, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !hasData {
				if err == io.EOF {
					return SSEEvent{}, io.EOF
				}
				ev.Event = ""
				continue
			}
			return finishEvent(ev, &data)
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "":
			// comment
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}

		if err == io.EOF {
			if !hasData {
				return SSEEvent{}, io.EOF
			}
			return finishEvent(ev, &data)
		}
	}
}

func finishEvent(ev SSEEvent, data *bytes.Buffer) (SSEEvent, error) {
	payload := bytes.TrimSpace(data.Bytes())
	if string(payload) == "[DONE]" {
		return SSEEvent{}, io.EOF
	}
	ev.Data = append([]byte(nil), payload...)
	return ev, nil
}

func (s *SSEReader) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
