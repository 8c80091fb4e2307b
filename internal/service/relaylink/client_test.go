package relaylink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/protocol"
	"ArbRelay/internal/relay"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
)

const secret = "agent-secret"

type handlerFunc func(ctx context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error)

func (f handlerFunc) Handle(ctx context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error) {
	return f(ctx, op, payload)
}

type testRelay struct {
	router *relay.Router
	hub    *relay.Hub
	srv    *httptest.Server
	url    string
}

func startRelay(t *testing.T, deadline time.Duration) *testRelay {
	t.Helper()
	router := relay.NewRouter(relay.RouterConfig{DefaultDeadline: deadline},
		relay.NewRegistry(metrics.Noop{}), relay.NewPending(logger.Nop(), metrics.Noop{}), nil, logger.Nop(), metrics.Noop{})
	hub := relay.NewHub(relay.DefaultHubConfig(), router, relay.NewTokenVerifier(secret), logger.Nop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Attach(r.Context(), ws, r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)
	return &testRelay{router: router, hub: hub, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func runClient(t *testing.T, cfg Config, h Handler) (*Client, context.CancelFunc) {
	t.Helper()
	c := New(cfg, h, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, cancel
}

func testConfig(url, user string) Config {
	return Config{
		URL:          url,
		UserID:       user,
		AuthToken:    relay.SignAgentToken(secret, user),
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		PingInterval: 50 * time.Millisecond,
	}
}

func TestServesRelayedRequests(t *testing.T) {
	r := startRelay(t, 2*time.Second)
	c, _ := runClient(t, testConfig(r.url, "alice"), handlerFunc(func(_ context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error) {
		return map[string]string{"op": string(op), "echo": string(payload)}, nil
	}))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	raw, err := r.router.Do(context.Background(), relay.Call{UserID: "alice", Op: protocol.OpPositions})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"op":"positions"`)
}

func TestHandlerErrorsCrossTheLink(t *testing.T) {
	r := startRelay(t, 2*time.Second)
	c, _ := runClient(t, testConfig(r.url, "alice"), handlerFunc(func(context.Context, protocol.Op, json.RawMessage) (interface{}, error) {
		return nil, apperr.Broker(201, "order rejected").WithOrderID(7)
	}))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	_, err := r.router.Do(context.Background(), relay.Call{UserID: "alice", Op: protocol.OpPlaceOrder, Payload: map[string]int{"quantity": 1}})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindBroker, e.Kind)
	assert.Equal(t, int64(7), e.OrderID)
}

func TestBadTokenIsNotRegistered(t *testing.T) {
	r := startRelay(t, time.Second)
	cfg := testConfig(r.url, "alice")
	cfg.AuthToken = "forged"
	c, _ := runClient(t, cfg, handlerFunc(func(context.Context, protocol.Op, json.RawMessage) (interface{}, error) {
		return nil, nil
	}))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, c.Connected())
	assert.Equal(t, 0, r.router.Registry().Count())
}

func TestReconnectsAfterRelayDropsLink(t *testing.T) {
	r := startRelay(t, 2*time.Second)
	c, _ := runClient(t, testConfig(r.url, "alice"), handlerFunc(func(context.Context, protocol.Op, json.RawMessage) (interface{}, error) {
		return "ok", nil
	}))
	require.Eventually(t, func() bool { return r.router.Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	first := r.router.Registry().Registrations()[0].ConnID

	for _, reg := range r.router.Registry().Registrations() {
		link, ok := r.router.Registry().Lookup(reg.UserID)
		require.True(t, ok)
		_ = link.Close()
	}

	require.Eventually(t, func() bool {
		regs := r.router.Registry().Registrations()
		return len(regs) == 1 && regs[0].ConnID != first
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, c.Connected())

	_, err := r.router.Do(context.Background(), relay.Call{UserID: "alice", Op: protocol.OpPositions})
	assert.NoError(t, err)
}

func TestReadOpsHonourRelayDeadlineButOrdersDoNot(t *testing.T) {
	r := startRelay(t, 100*time.Millisecond)

	var readCancelled, orderFinished atomic.Bool
	c, _ := runClient(t, testConfig(r.url, "alice"), handlerFunc(func(ctx context.Context, op protocol.Op, _ json.RawMessage) (interface{}, error) {
		select {
		case <-ctx.Done():
			if !op.Mutating() {
				readCancelled.Store(true)
			}
			return nil, ctx.Err()
		case <-time.After(300 * time.Millisecond):
			if op.Mutating() {
				orderFinished.Store(true)
			}
			return "done", nil
		}
	}))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	_, err := r.router.Do(context.Background(), relay.Call{UserID: "alice", Op: protocol.OpPositions})
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	_, err = r.router.Do(context.Background(), relay.Call{UserID: "alice", Op: protocol.OpCancelOrder, Payload: map[string]int{"order_id": 2}})
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))

	assert.Eventually(t, readCancelled.Load, time.Second, 10*time.Millisecond)
	assert.Eventually(t, orderFinished.Load, time.Second, 10*time.Millisecond)
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	for attempt := 1; attempt < 80; attempt++ {
		d := backoff(100*time.Millisecond, 2*time.Second, attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}
