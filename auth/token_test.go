package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator@grid", ExpiresAt: jwt.NewNumericDate(exp)},
		Role:             "admin",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return tok
}

func TestInspectReadsClaimsWithoutKey(t *testing.T) {
	tok := signed(t, time.Now().Add(time.Hour))
	claims, err := Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, "operator@grid", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = Inspect("not-a-jwt")
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Expired(signed(t, now.Add(time.Hour)), now))
	assert.True(t, Expired(signed(t, now.Add(-time.Minute)), now))
	assert.False(t, Expired("opaque-token", now))
}

func TestFileTokenRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	src := FileToken{Path: path}
	assert.Equal(t, "", src.Token())

	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))
	assert.Equal(t, "first", src.Token())
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	assert.Equal(t, "second", src.Token())
}

func TestCheckedWarnsOncePerToken(t *testing.T) {
	var buf bytes.Buffer
	expired := signed(t, time.Now().Add(-time.Hour))
	c := NewChecked(StaticToken(expired), core.NewWriterLogger(&buf))

	assert.Equal(t, expired, c.Token())
	assert.Equal(t, expired, c.Token())
	assert.Equal(t, 1, strings.Count(buf.String(), "expired"))
}

func TestCheckedPassesValidTokenSilently(t *testing.T) {
	var buf bytes.Buffer
	valid := signed(t, time.Now().Add(time.Hour))
	c := NewChecked(StaticToken(valid), core.NewWriterLogger(&buf))

	assert.Equal(t, valid, c.Token())
	assert.Empty(t, buf.String())
	assert.Equal(t, "", NewChecked(StaticToken("  "), core.NewNopLogger()).Token())
}
