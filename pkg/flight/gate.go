// Package flight serialises work per operation class and collapses identical concurrent calls.
package flight

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Gate runs at most one call per class at a time. Calls with the same class and key that
// arrive while one is running share its result instead of queueing a second run.
type Gate struct {
	group singleflight.Group

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func New() *Gate {
	return &Gate{slots: make(map[string]chan struct{})}
}

func (g *Gate) slot(class string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[class]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[class] = s
	}
	return s
}

// Do runs fn under the class slot. fn receives a context that is not cancelled when
// the calling context is, since other callers may be sharing the result.
// shared reports whether the result came from another caller's run.
func (g *Gate) Do(ctx context.Context, class, key string, fn func(context.Context) (interface{}, error)) (v interface{}, shared bool, err error) {
	ch := g.group.DoChan(class+"\x00"+key, func() (interface{}, error) {
		slot := g.slot(class)
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-slot }()
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Busy reports whether a call in class currently holds the slot.
func (g *Gate) Busy(class string) bool {
	return len(g.slot(class)) > 0
}
