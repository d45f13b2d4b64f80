// Package auth supplies the bearer token for authenticated requests. Tokens
// are issued elsewhere; this package only reads and inspects them.
package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gridlink/core"
)

// TokenSource yields the current bearer token, or "" when none is configured.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return strings.TrimSpace(string(t)) }

// FileToken re-reads a token file on every call so an external login flow
// can rotate it.
type FileToken struct {
	Path string
}

func (f FileToken) Token() string {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Claims are the fields read from the backend's access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Inspect decodes token without verifying its signature. The signing key
// lives on the server; this is only used for client side expiry hints.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	return claims, nil
}

// Expired reports whether token carries an exp claim at or before now.
// Opaque or unparseable tokens are never reported as expired.
func Expired(token string, now time.Time) bool {
	claims, err := Inspect(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

// Checked wraps a TokenSource and logs a warning, once per token value, when
// the token has expired. The token is still returned so the server makes the
// final call.
type Checked struct {
	src    TokenSource
	logger *core.Logger
	now    func() time.Time

	mu     sync.Mutex
	warned string
}

func NewChecked(src TokenSource, logger *core.Logger) *Checked {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Checked{src: src, logger: logger.Component("auth"), now: time.Now}
}

func (c *Checked) Token() string {
	tok := c.src.Token()
	if tok == "" || !Expired(tok, c.now()) {
		return tok
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned != tok {
		c.warned = tok
		c.logger.Warn("bearer token has expired; authenticated requests will be rejected")
	}
	return tok
}
