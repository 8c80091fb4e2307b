package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeyCallsShareOneRun(t *testing.T) {
	g := New()
	var runs atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]interface{}, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "positions", "", func(context.Context) (interface{}, error) {
				runs.Add(1)
				<-release
				return "snapshot", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return g.Busy("positions") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, v := range results {
		assert.Equal(t, "snapshot", v)
	}
}

func TestDifferentKeysInOneClassAreSerialised(t *testing.T) {
	g := New()
	var active, peak atomic.Int32

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), "chain", key, func(context.Context) (interface{}, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return key, nil
			})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestCallerCancellationDoesNotCancelRun(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan error, 1)

	go func() {
		_, _, err := g.Do(ctx, "orders", "", func(runCtx context.Context) (interface{}, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			finished <- runCtx.Err()
			return nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	<-started
	cancel()
	assert.NoError(t, <-finished)
}
