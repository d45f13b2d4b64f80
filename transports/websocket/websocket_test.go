package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil, core.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestClientEchoAndServerClose(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(mt, data)
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseInternal, "bye"))
		conn.ReadMessage()
	})

	c := dial(t, url)
	assert.Equal(t, StateOpen, c.State())

	frames := make(chan Frame, 4)
	closed := make(chan CloseEvent, 1)
	c.StartReceiving(func(f Frame) { frames <- f }, func(ev CloseEvent) { closed <- ev })

	require.NoError(t, c.SendBinary([]byte{1, 2}))

	f := <-frames
	assert.True(t, f.Binary)
	assert.Equal(t, []byte{1, 2}, f.Data)
	f = <-frames
	assert.False(t, f.Binary)
	assert.Equal(t, "hello", string(f.Data))

	select {
	case ev := <-closed:
		assert.Equal(t, CloseInternal, ev.Code)
		assert.Equal(t, "bye", ev.Reason)
		assert.False(t, IsNormalClose(ev.Code))
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Error(t, c.SendText("late"))
	assert.NoError(t, c.Close())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dial(t, url)
	closed := make(chan CloseEvent, 1)
	c.StartReceiving(func(Frame) {}, func(ev CloseEvent) { closed <- ev })

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	select {
	case ev := <-closed:
		assert.True(t, IsNormalClose(ev.Code))
	case <-time.After(3 * time.Second):
		t.Fatal("close not reported")
	}
	<-c.Done()
}

func TestClientAbnormalDrop(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	c := dial(t, url)
	closed := make(chan CloseEvent, 1)
	c.StartReceiving(func(Frame) {}, func(ev CloseEvent) { closed <- ev })

	select {
	case ev := <-closed:
		assert.Equal(t, CloseAbnormal, ev.Code)
		assert.Error(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}
}

func TestIsNormalClose(t *testing.T) {
	assert.True(t, IsNormalClose(1000))
	assert.True(t, IsNormalClose(1005))
	assert.False(t, IsNormalClose(1006))
	assert.False(t, IsNormalClose(1011))
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/none", nil, core.NewNopLogger())
	assert.Error(t, err)
}
