package relay

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

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

const testSecret = "s3cret"

func startHub(t *testing.T, cfg HubConfig) (*Router, string) {
	t.Helper()
	router := newTestRouter(RouterConfig{DefaultDeadline: 2 * time.Second})
	hub := NewHub(cfg, router, NewTokenVerifier(testSecret), logger.Nop())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Attach(r.Context(), ws, r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)
	return router, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAgent(t *testing.T, url, userID, token string) (*websocket.Conn, *protocol.Frame) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	b, _ := protocol.Encode(protocol.NewRegister(userID, token))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
	return ws, readFrame(t, ws)
}

func readFrame(t *testing.T, ws *websocket.Conn) *protocol.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(b)
	require.NoError(t, err)
	return f
}

func TestAgentRoundTripOverWebsocket(t *testing.T) {
	router, url := startHub(t, DefaultHubConfig())
	ws, reg := dialAgent(t, url, "alice", SignAgentToken(testSecret, "alice"))
	require.Equal(t, protocol.FrameRegistered, reg.Type)
	require.Nil(t, reg.Error)
	require.Eventually(t, func() bool { return router.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := router.Do(context.Background(), Call{UserID: "alice", Op: protocol.OpPositions})
		done <- result{raw, err}
	}()

	req := readFrame(t, ws)
	for req.Type == protocol.FramePing {
		req = readFrame(t, ws)
	}
	require.Equal(t, protocol.FrameRequest, req.Type)
	assert.Equal(t, protocol.OpPositions, req.Op)
	assert.False(t, req.Deadline().IsZero())

	b, _ := protocol.Encode(protocol.NewResponse(req.RequestID, map[string]int{"cycle": 7}, nil))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))

	res := <-done
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"cycle":7}`, string(res.raw))
}

func TestBadTokenIsRefused(t *testing.T) {
	router, url := startHub(t, DefaultHubConfig())
	ws, reg := dialAgent(t, url, "alice", SignAgentToken("wrong", "alice"))

	require.Equal(t, protocol.FrameRegistered, reg.Type)
	require.NotNil(t, reg.Error)
	assert.Equal(t, "auth_token", reg.Error.Field)
	assert.Zero(t, router.Registry().Count())

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "relay closes a refused socket")
}

func TestDisconnectUnregistersAndFailsInflight(t *testing.T) {
	router, url := startHub(t, DefaultHubConfig())
	ws, _ := dialAgent(t, url, "alice", SignAgentToken(testSecret, "alice"))
	require.Eventually(t, func() bool { return router.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	errc := make(chan error, 1)
	go func() {
		_, err := router.Do(context.Background(), Call{UserID: "alice", Op: protocol.OpPositions})
		errc <- err
	}()
	req := readFrame(t, ws)
	for req.Type != protocol.FrameRequest {
		req = readFrame(t, ws)
	}
	_ = ws.Close()

	select {
	case err := <-errc:
		assert.Equal(t, apperr.KindConnectivity, apperr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call not failed on disconnect")
	}
	assert.Eventually(t, func() bool { return router.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSilentAgentGoesStale(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.Link.HeartbeatInterval = 20 * time.Millisecond
	cfg.Link.StaleAfter = 100 * time.Millisecond
	router, url := startHub(t, cfg)
	_, _ = dialAgent(t, url, "alice", SignAgentToken(testSecret, "alice"))

	// the test client never reads or answers pings, so the relay must drop it
	require.Eventually(t, func() bool { return router.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return router.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSecondRegistrationSupersedes(t *testing.T) {
	router, url := startHub(t, DefaultHubConfig())
	token := SignAgentToken(testSecret, "alice")
	first, _ := dialAgent(t, url, "alice", token)
	require.Eventually(t, func() bool { return router.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)
	l1, _ := router.Registry().Lookup("alice")

	_, _ = dialAgent(t, url, "alice", token)
	require.Eventually(t, func() bool {
		l2, ok := router.Registry().Lookup("alice")
		return ok && l2.ID() != l1.ID()
	}, time.Second, 5*time.Millisecond)

	// the superseded socket is closed by the relay
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 1, router.Registry().Count())
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("k")
	assert.True(t, v.Verify("u1", SignAgentToken("k", "u1")))
	assert.False(t, v.Verify("u2", SignAgentToken("k", "u1")))
	assert.False(t, v.Verify("u1", ""))
	assert.False(t, v.Verify("", SignAgentToken("k", "")))
}

func TestRegistryRoundRobin(t *testing.T) {
	r := newTestRouter(RouterConfig{})
	reg := r.Registry()
	for _, u := range []string{"c", "a", "b"} {
		reg.Register(newFakeLink(r, u, nil))
	}
	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		l, ok := reg.Any()
		require.True(t, ok)
		seen[l.UserID()]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, seen)

	regs := reg.Registrations()
	require.Len(t, regs, 3)
	assert.Equal(t, "a", regs[0].UserID)
}

func TestHubCloseDropsAgents(t *testing.T) {
	router := newTestRouter(RouterConfig{})
	hub := NewHub(DefaultHubConfig(), router, NewTokenVerifier(testSecret), logger.Nop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Attach(r.Context(), ws, r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, reg := dialAgent(t, url, "alice", SignAgentToken(testSecret, "alice"))
	require.Nil(t, reg.Error)
	require.Eventually(t, func() bool { return router.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Eventually(t, func() bool { return router.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "a closed hub refuses new sockets")
}
