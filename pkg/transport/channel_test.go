package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []string
	states   []State
	errs     []error
}

func (h *recordingHandler) OnMessage(content string) {
	h.mu.Lock()
	h.messages = append(h.messages, content)
	h.mu.Unlock()
}

func (h *recordingHandler) OnStateChange(s State) {
	h.mu.Lock()
	h.states = append(h.states, s)
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]string, []State, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...), append([]State(nil), h.states...), len(h.errs)
}

// chatServer is a websocket server whose per-connection behaviour is scripted
// by the test through onConn.
type chatServer struct {
	srv     *httptest.Server
	mu      sync.Mutex
	clients []string
	onConn  func(conn *websocket.Conn)
}

func newChatServer(t *testing.T, onConn func(conn *websocket.Conn)) *chatServer {
	t.Helper()
	cs := &chatServer{onConn: onConn}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.clients = append(cs.clients, r.URL.Query().Get("client_id"))
		cs.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		cs.onConn(conn)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http") + "/api/bot/chat"
}

func (cs *chatServer) clientIDs() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.clients...)
}

func echoConn(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("Message received: "+string(data))); err != nil {
			return
		}
	}
}

func TestChannelConnectSendReceive(t *testing.T) {
	cs := newChatServer(t, echoConn)
	h := &recordingHandler{}
	ch, err := NewChannel(cs.wsURL(), WithHandler(h))
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "agent-7"))
	require.Equal(t, StateConnected, ch.State())
	require.Equal(t, "agent-7", ch.Identity())

	ch.Send("hello")
	require.Eventually(t, func() bool {
		msgs, _, _ := h.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, states, errs := h.snapshot()
	require.Equal(t, []string{"Message received: hello"}, msgs)
	require.Equal(t, []State{StateConnecting, StateConnected}, states)
	require.Zero(t, errs)
	require.Equal(t, []string{"agent-7"}, cs.clientIDs())
}

func TestChannelDefaultIdentity(t *testing.T) {
	cs := newChatServer(t, echoConn)
	ch, err := NewChannel(cs.wsURL())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "  "))
	require.Equal(t, []string{DefaultIdentity}, cs.clientIDs())
}

func TestChannelSendWhileDisconnectedIsNoop(t *testing.T) {
	ch, err := NewChannel("ws://127.0.0.1:1/api/bot/chat")
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, ch.State())
	ch.Send("ignored")
	require.Equal(t, StateDisconnected, ch.State())
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	cs := newChatServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"structured"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("raw"))
		echoConn(conn)
	})
	h := &recordingHandler{}
	ch, err := NewChannel(cs.wsURL(), WithHandler(h))
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "a"))
	require.Eventually(t, func() bool {
		msgs, _, _ := h.snapshot()
		return len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs, _, errs := h.snapshot()
	require.Equal(t, []string{"structured", "raw"}, msgs)
	require.Zero(t, errs)
	require.Equal(t, StateConnected, ch.State())
}

func TestChannelServerCloseMovesToDisconnected(t *testing.T) {
	cs := newChatServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	})
	h := &recordingHandler{}
	ch, err := NewChannel(cs.wsURL(), WithHandler(h))
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "a"))
	require.Eventually(t, func() bool {
		return ch.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	_, states, errs := h.snapshot()
	require.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
	require.Zero(t, errs)
}

func TestChannelAbnormalCloseCodeMovesToDisconnected(t *testing.T) {
	for _, code := range []int{websocket.ClosePolicyViolation, websocket.CloseInternalServerErr, 4001} {
		cs := newChatServer(t, func(conn *websocket.Conn) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, "bye"),
				time.Now().Add(time.Second))
			_, _, _ = conn.ReadMessage()
		})
		h := &recordingHandler{}
		ch, err := NewChannel(cs.wsURL(), WithHandler(h))
		require.NoError(t, err)

		require.NoError(t, ch.Connect(context.Background(), "a"))
		require.Eventually(t, func() bool {
			return ch.State() == StateDisconnected
		}, 2*time.Second, 10*time.Millisecond, "close code %d", code)

		_, states, errs := h.snapshot()
		require.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states, "close code %d", code)
		require.Zero(t, errs, "close code %d", code)
		require.NoError(t, ch.Close())
	}
}

func TestChannelIdentityChangeReleasesPreviousConnection(t *testing.T) {
	firstClosed := make(chan struct{})
	var mu sync.Mutex
	conns := 0
	cs := newChatServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		echoConn(conn)
		if n == 1 {
			close(firstClosed)
		}
	})
	h := &recordingHandler{}
	ch, err := NewChannel(cs.wsURL(), WithHandler(h))
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "alice"))
	require.NoError(t, ch.Connect(context.Background(), "bob"))

	select {
	case <-firstClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was not released")
	}
	require.Equal(t, []string{"alice", "bob"}, cs.clientIDs())
	require.Equal(t, "bob", ch.Identity())
	require.Equal(t, StateConnected, ch.State())

	ch.Send("hi")
	require.Eventually(t, func() bool {
		msgs, _, _ := h.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	msgs, _, errs := h.snapshot()
	require.Equal(t, []string{"Message received: hi"}, msgs)
	require.Zero(t, errs)
}

func TestChannelDialFailureSignalsErrorOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := &recordingHandler{}
	ch, err := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/bot/chat", WithHandler(h))
	require.NoError(t, err)

	err = ch.Connect(context.Background(), "a")
	require.Error(t, err)
	require.Equal(t, StateErrored, ch.State())

	_, states, errs := h.snapshot()
	require.Equal(t, []State{StateConnecting, StateErrored}, states)
	require.Equal(t, 1, errs)
}

func TestChannelReconnectsWithPolicy(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	cs := newChatServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		if n == 1 {
			// drop the first connection without a close frame
			_ = conn.UnderlyingConn().Close()
			return
		}
		echoConn(conn)
	})
	h := &recordingHandler{}
	policy := NewBackoffPolicy(BackoffSettings{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxRetries: 5})
	ch, err := NewChannel(cs.wsURL(), WithHandler(h), WithReconnectPolicy(policy))
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Connect(context.Background(), "a"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns == 2 && ch.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	_, _, errs := h.snapshot()
	require.Equal(t, 1, errs)

	ch.Send("after reconnect")
	require.Eventually(t, func() bool {
		msgs, _, _ := h.snapshot()
		return len(msgs) == 1 && msgs[0] == "Message received: after reconnect"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelCloseReleasesConnection(t *testing.T) {
	closed := make(chan struct{})
	cs := newChatServer(t, func(conn *websocket.Conn) {
		defer close(closed)
		echoConn(conn)
	})
	h := &recordingHandler{}
	ch, err := NewChannel(cs.wsURL(), WithHandler(h))
	require.NoError(t, err)

	require.NoError(t, ch.Connect(context.Background(), "a"))
	require.NoError(t, ch.Close())
	require.Equal(t, StateDisconnected, ch.State())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection close")
	}
	require.NoError(t, ch.Close())

	_, states, errs := h.snapshot()
	require.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
	require.Zero(t, errs)
}

func TestNewChannelRejectsHTTPURL(t *testing.T) {
	_, err := NewChannel("http://localhost:8000/api/bot/chat")
	require.Error(t, err)
}
