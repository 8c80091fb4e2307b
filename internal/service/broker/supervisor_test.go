package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/service/broker"
	"ArbRelay/internal/service/broker/paper"
)

func startSupervisor(t *testing.T, gw broker.Gateway, cfg broker.SupervisorConfig) *broker.Supervisor {
	t.Helper()
	sup := broker.NewSupervisor(gw, cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-sup.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}
	return sup
}

func TestSupervisorSkipsClientIDInUse(t *testing.T) {
	gw := paper.New(paperConfig())
	gw.TakeClientID(10)
	gw.TakeClientID(11)

	sup := startSupervisor(t, gw, broker.SupervisorConfig{ClientIDMin: 10, ClientIDMax: 14, ReconnectBackoff: 10 * time.Millisecond})

	sess, err := sup.Session()
	require.NoError(t, err)
	assert.Equal(t, 12, sess.ClientID())
}

func TestSupervisorReconnectsWithFreshIDs(t *testing.T) {
	gw := paper.New(paperConfig())
	sup := startSupervisor(t, gw, broker.SupervisorConfig{ClientIDMin: 1, ClientIDMax: 1, ReconnectBackoff: 20 * time.Millisecond})

	first, err := sup.Session()
	require.NoError(t, err)
	firstOrder := first.NextOrderID()

	gw.Kill()
	require.Eventually(t, func() bool { return sup.Generation() == 2 }, 2*time.Second, 5*time.Millisecond)
	second, err := sup.Session()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, firstOrder, second.NextOrderID(), "ids are re-derived from the new handshake")
	assert.True(t, first.Lost())
}

func TestSupervisorRetriesFailedDials(t *testing.T) {
	gw := paper.New(paperConfig())
	gw.FailDials(2)

	sup := startSupervisor(t, gw, broker.SupervisorConfig{ClientIDMin: 1, ClientIDMax: 1, ReconnectBackoff: 5 * time.Millisecond})
	_, err := sup.Session()
	require.NoError(t, err)
	assert.Equal(t, 3, gw.Dials())
}

func TestSupervisorStaleHeartbeatMarksLost(t *testing.T) {
	gw := paper.New(paperConfig())
	sup := startSupervisor(t, gw, broker.SupervisorConfig{
		ClientIDMin:       1,
		ClientIDMax:       1,
		ReconnectBackoff:  time.Hour,
		HeartbeatInterval: 20 * time.Millisecond,
		StaleAfter:        time.Nanosecond,
	})

	require.Eventually(t, func() bool {
		_, err := sup.Session()
		return apperr.Is(err, apperr.KindConnectivity)
	}, time.Second, 5*time.Millisecond)
}
