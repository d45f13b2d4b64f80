package api

import (
	"errors"
	"fmt"
	"net/url"
)

// StatusError is a non-2xx response. Detail is the backend's "detail" field,
// or "" when the body carried none.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("api: %s: status %d: %s", e.Op, e.Code, e.Detail)
}

// TransportError is a failure to reach the backend at all (DNS, refused
// connection, reset, TLS). Use errors.As to tell it apart from StatusError.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("api: transport error during %s %s: %v", e.Op, redactURL(e.URL), e.Err)
	}
	return fmt.Sprintf("api: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a 2xx response whose body did not match the expected shape.
type DecodeError struct {
	Op   string
	Code int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("api: %s: decode status %d body: %v", e.Op, e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
