package signal

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
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: []string{"janus-protocol"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialRoundTrip(t *testing.T) {
	srv := echoServer(t)
	conn, err := NewDialer(wsURL(srv)).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.TrySend([]byte(`{"janus":"keepalive"}`)))
	select {
	case f := <-conn.Frames():
		assert.JSONEq(t, `{"janus":"keepalive"}`, string(f))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestConnectionOutlivesDialContext(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := NewDialer(wsURL(srv)).Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	cancel()

	require.NoError(t, conn.TrySend([]byte(`{"janus":"keepalive"}`)))
	select {
	case f, ok := <-conn.Frames():
		require.True(t, ok)
		assert.JSONEq(t, `{"janus":"keepalive"}`, string(f))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo after the dial context ended")
	}
}

func TestFramesClosedOnRemoteClose(t *testing.T) {
	srv := echoServer(t)
	conn, err := NewDialer(wsURL(srv)).Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.TrySend([]byte("bye")))
	select {
	case _, ok := <-conn.Frames():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frames not closed")
	}
	assert.ErrorIs(t, conn.TrySend([]byte("x")), ErrClosed)
}

func TestDialRefused(t *testing.T) {
	_, err := NewDialer("ws://127.0.0.1:1/janus").Dial(context.Background())
	require.Error(t, err)
}
