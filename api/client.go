// Package api is the HTTP client for the grid operations backend: chat turns,
// history, session archiving, the agent event stream and dashboard stats.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gridlink/auth"
	"gridlink/core"
	"gridlink/metrics"
	"gridlink/protocol"
)

const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Tokens supplies the bearer token. May be nil for anonymous use.
	Tokens auth.TokenSource
	Logger *core.Logger
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens auth.TokenSource
	logger *core.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Client{
		base:   base,
		http:   cfg.HTTPClient,
		tokens: cfg.Tokens,
		logger: cfg.Logger.Component("api"),
	}, nil
}

// BaseURL returns the configured backend URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// HasToken reports whether a bearer token is currently available.
func (c *Client) HasToken() bool {
	return c.token() != ""
}

// VoiceURL is the voice WebSocket endpoint for threadID.
func (c *Client) VoiceURL(threadID string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + protocol.PathVoice
	u.RawQuery = url.Values{"thread_id": {threadID}}.Encode()
	return u.String()
}

// SendChat posts one chat turn to endpoint (protocol.PathChat or
// protocol.PathAgentChat). The bearer header is attached only when
// authenticated is true.
func (c *Client) SendChat(ctx context.Context, endpoint string, req protocol.ChatRequest, authenticated bool) (*protocol.ChatResponse, error) {
	start := time.Now()
	var out protocol.ChatResponse
	err := c.doJSON(ctx, "send chat", http.MethodPost, endpoint, req, authenticated, &out)
	metrics.ChatRequestDuration.WithLabelValues(endpoint, statusLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the stored turns of threadID. The bearer token is sent
// when one is available.
func (c *Client) History(ctx context.Context, threadID string) ([]protocol.HistoryMessage, error) {
	var out protocol.HistoryResponse
	path := protocol.PathHistory + url.PathEscape(threadID)
	if err := c.doJSON(ctx, "fetch history", http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// FinishSession archives threadID on the server.
func (c *Client) FinishSession(ctx context.Context, threadID string) error {
	path := protocol.PathSessions + url.PathEscape(threadID) + "/finish"
	return c.doJSON(ctx, "finish session", http.MethodPost, path, nil, true, nil)
}

// TicketStats fetches the dashboard summary for the current user.
func (c *Client) TicketStats(ctx context.Context) (*protocol.TicketStats, error) {
	var out protocol.TicketStats
	if err := c.doJSON(ctx, "ticket stats", http.MethodGet, protocol.PathTicketStats, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) resolve(path string) string {
	return c.base.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}, authenticated bool) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := protocol.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), r)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body interface{}, authenticated bool, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body, authenticated)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	if err := protocol.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Code: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Op: op, Code: resp.StatusCode}
	var body protocol.ErrorResponse
	if err := protocol.Unmarshal(data, &body); err == nil {
		se.Detail = body.DetailText()
	}
	c.logger.With(map[string]interface{}{"op": op, "status": resp.StatusCode}).Debug("backend returned error status")
	return se
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := StatusCode(err); code != 0 {
		return strconv.Itoa(code)
	}
	if IsTransport(err) {
		return "transport"
	}
	return "error"
}
